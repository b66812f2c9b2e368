// Package solo provides a single-party threshold engine for dev and
// single-operator networks: the whole "group" is one signer, so DKG
// yields the operator's own public key and signing rounds produce a
// plain recoverable signature over the block vote. Multi-party
// deployments plug a real threshold library into the same interfaces.
package solo

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/embernet-chain/internal/threshold"
	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
)

// Engine implements the coordinator, signing-round, and packet-verifier
// contracts for a group of one.
type Engine struct {
	key *crypto.PrivateKey
	cfg threshold.Config

	dkgID        uint64
	signID       uint64
	state        threshold.State
	aggregateKey []byte
	message      []byte

	// pending holds results of rounds that completed synchronously,
	// surfaced on the next packet batch.
	pending []threshold.OperationResult
}

// New creates a solo engine around the operator's key. The group
// config's timeouts are irrelevant here — rounds complete
// synchronously — but the engine keeps it so callers can introspect
// the group shape.
func New(key *crypto.PrivateKey, cfg threshold.Config) *Engine {
	return &Engine{key: key, cfg: cfg, state: threshold.StateIdle}
}

// Config returns the group configuration.
func (e *Engine) Config() threshold.Config {
	return e.cfg
}

// persistedState is the engine's opaque save format.
type persistedState struct {
	DkgID        uint64 `json:"dkg_id"`
	SignID       uint64 `json:"sign_id"`
	AggregateKey []byte `json:"aggregate_key,omitempty"`
}

// StartDkgRound completes immediately: the group key is the operator's
// own public key. The begin packet is still broadcast so observers see
// the round happen.
func (e *Engine) StartDkgRound() (*threshold.Packet, error) {
	e.dkgID++
	e.aggregateKey = e.key.PublicKey().Serialize()
	e.state = threshold.StateDkg
	e.pending = append(e.pending, threshold.OperationResult{
		Kind:   threshold.ResultDkg,
		DkgKey: e.aggregateKey,
	})
	return e.signedPacket(threshold.Message{Kind: threshold.MsgDkgBegin, DkgID: e.dkgID})
}

// StartSigningRound decides the solo vote over the block and signs it.
// Taproot tweaking is not supported for a group of one.
func (e *Engine) StartSigningRound(message []byte, taproot bool, _ []byte) (*threshold.Packet, error) {
	if taproot {
		return nil, fmt.Errorf("solo: taproot signing is not supported")
	}
	var blk block.Block
	if err := json.Unmarshal(message, &blk); err != nil || blk.Header == nil {
		return nil, fmt.Errorf("solo: signing message is not a block")
	}
	e.signID++
	e.state = threshold.StateSigning

	// The group of one accepts its own validated block; the vote is
	// what the signature covers, mirroring the multi-party protocol.
	vote := block.Vote{SignerSignatureHash: blk.SignerSignatureHash()}
	e.message = vote.Serialize()
	digest := crypto.Hash(e.message)
	sig, err := e.key.Sign(digest[:])
	if err != nil {
		e.state = threshold.StateIdle
		return nil, fmt.Errorf("solo: sign vote: %w", err)
	}
	e.pending = append(e.pending, threshold.OperationResult{
		Kind:      threshold.ResultSignature,
		Signature: sig.Bytes(),
	})
	return e.signedPacket(threshold.Message{
		Kind:    threshold.MsgNonceRequest,
		SignID:  e.signID,
		Message: e.message,
	})
}

// ProcessInboundMessages surfaces any synchronously-completed round
// results. With a group of one there are no other participants to talk
// to, so inbound packets need no responses.
func (e *Engine) ProcessInboundMessages(_ []*threshold.Packet) ([]*threshold.Packet, []threshold.OperationResult, error) {
	results := e.pending
	e.pending = nil
	if len(results) > 0 {
		e.state = threshold.StateIdle
	}
	return nil, results, nil
}

// State reports the engine's protocol state.
func (e *Engine) State() threshold.State {
	return e.state
}

// CurrentDkgID returns the current DKG round id.
func (e *Engine) CurrentDkgID() uint64 {
	return e.dkgID
}

// SetCurrentDkgID positions the next DKG round.
func (e *Engine) SetCurrentDkgID(id uint64) {
	e.dkgID = id
}

// AggregateKey returns the group key, or nil before the first DKG.
func (e *Engine) AggregateKey() []byte {
	return e.aggregateKey
}

// SetAggregateKey installs a ratified group key.
func (e *Engine) SetAggregateKey(key []byte) {
	e.aggregateKey = key
}

// CurrentMessage returns the message of the latest signing round.
func (e *Engine) CurrentMessage() []byte {
	return e.message
}

// Round is the engine's participant role. For a group of one it only
// persists state; the coordinator side already holds the key share.
type Round struct {
	engine *Engine
}

// NewRound wraps the engine's participant role.
func NewRound(engine *Engine) *Round {
	return &Round{engine: engine}
}

// ProcessInboundMessages is a no-op for a group of one.
func (r *Round) ProcessInboundMessages(_ []*threshold.Packet) ([]*threshold.Packet, error) {
	return nil, nil
}

// SaveState serializes the engine state.
func (r *Round) SaveState() ([]byte, error) {
	return json.Marshal(persistedState{
		DkgID:        r.engine.dkgID,
		SignID:       r.engine.signID,
		AggregateKey: r.engine.aggregateKey,
	})
}

// LoadState restores state saved by SaveState.
func (r *Round) LoadState(data []byte) error {
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("solo: load state: %w", err)
	}
	r.engine.dkgID = state.DkgID
	r.engine.signID = state.SignID
	r.engine.aggregateKey = state.AggregateKey
	return nil
}

// signedPacket wraps a message with this signer's recoverable
// signature over its encoding.
func (e *Engine) signedPacket(msg threshold.Message) (*threshold.Packet, error) {
	packet := &threshold.Packet{Msg: msg}
	raw, err := json.Marshal(&packet.Msg)
	if err != nil {
		return nil, fmt.Errorf("solo: encode message: %w", err)
	}
	digest := crypto.Hash(raw)
	sig, err := e.key.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("solo: sign packet: %w", err)
	}
	packet.Sig = sig.Bytes()
	return packet, nil
}

// Verifier authenticates packets against the coordinator's key.
type Verifier struct{}

// Verify checks the packet signature. Coordinator-originated messages
// must recover to the elected coordinator's key; responses may come
// from any group member, which for a solo group is the same key.
func (Verifier) Verify(packet *threshold.Packet, coordinatorKey []byte) bool {
	if len(packet.Sig) != crypto.SignatureSize {
		return false
	}
	raw, err := json.Marshal(&packet.Msg)
	if err != nil {
		return false
	}
	sig, err := crypto.SignatureFromBytes(packet.Sig)
	if err != nil {
		return false
	}
	digest := crypto.Hash(raw)
	pub, err := crypto.RecoverPublicKey(digest[:], sig)
	if err != nil {
		return false
	}
	if packet.Msg.IsCoordinatorMessage() {
		return pub.EqualBytes(coordinatorKey)
	}
	return true
}
