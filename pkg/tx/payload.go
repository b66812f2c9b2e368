package tx

import (
	"fmt"

	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Payload type tags.
const (
	payloadTagRaw              byte = 0x00
	payloadTagAggregateKeyVote byte = 0x01
)

// Payload is a transaction's effect. This layer only distinguishes the
// aggregate-key vote the signer set uses to ratify a DKG result; every
// other payload passes through opaquely.
type Payload interface {
	// Serialize returns the payload's wire form: tag(1) ‖ body.
	Serialize() []byte
}

// RawPayload carries opaque payload bytes:
//
//	0x00 ‖ length(be4) ‖ body
type RawPayload []byte

// Serialize returns the payload's wire form.
func (p RawPayload) Serialize() []byte {
	buf := []byte{payloadTagRaw}
	buf = appendUint32(buf, uint32(len(p)))
	return append(buf, p...)
}

// AggregateKeyVote votes to ratify an aggregate public key produced by
// a DKG round:
//
//	0x01 ‖ round(be8) ‖ reward_cycle(be8) ‖ key_len(be4) ‖ key
type AggregateKeyVote struct {
	Round       uint64 `json:"round"`
	RewardCycle uint64 `json:"reward_cycle"`

	// Key is the serialized aggregate group public key.
	Key []byte `json:"key"`
}

// Serialize returns the payload's wire form.
func (p *AggregateKeyVote) Serialize() []byte {
	buf := []byte{payloadTagAggregateKeyVote}
	buf = appendUint64(buf, p.Round)
	buf = appendUint64(buf, p.RewardCycle)
	buf = appendUint32(buf, uint32(len(p.Key)))
	return append(buf, p.Key...)
}

// parsePayload reads a payload from the wire.
func parsePayload(r *reader) (Payload, error) {
	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case payloadTagRaw:
		length, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		body, err := r.readBytes(int(length))
		if err != nil {
			return nil, err
		}
		return RawPayload(body), nil

	case payloadTagAggregateKeyVote:
		round, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		cycle, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		keyLen, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		key, err := r.readBytes(int(keyLen))
		if err != nil {
			return nil, err
		}
		return &AggregateKeyVote{Round: round, RewardCycle: cycle, Key: key}, nil

	default:
		return nil, fmt.Errorf("%w: unknown payload tag %d", ErrDeserialize, tag)
	}
}

// AggregateKeyVoteFrom extracts an aggregate-key vote payload from a
// transaction, or false if the transaction carries something else.
func AggregateKeyVoteFrom(t *Transaction) (*AggregateKeyVote, bool) {
	vote, ok := t.Payload.(*AggregateKeyVote)
	return vote, ok
}

// OriginAddress returns the transaction origin's account address for
// the given network.
func OriginAddress(t *Transaction, mainnet bool) types.Address {
	if mainnet {
		return t.Auth.Origin.AddressMainnet()
	}
	return t.Auth.Origin.AddressTestnet()
}
