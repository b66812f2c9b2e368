// Package bus implements the signer message bus: a gossip network over
// which signers exchange threshold-protocol packets, block responses,
// and pending vote transactions. Delivery is best-effort with retry;
// consumers tolerate duplicates.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/embernet-chain/internal/threshold"
	"github.com/Klingon-tech/embernet-chain/pkg/tx"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// RejectCode classifies why a signer rejected a block.
type RejectCode string

// Reject codes.
const (
	// RejectValidationFailed: the local node judged the block invalid.
	RejectValidationFailed RejectCode = "validation_failed"

	// RejectConnectivityIssues: the signer could not reach its node to
	// validate the block.
	RejectConnectivityIssues RejectCode = "connectivity_issues"

	// RejectMissingTransactions: the block omits vote transactions the
	// signer set expects.
	RejectMissingTransactions RejectCode = "missing_transactions"

	// RejectSigningFailed: the threshold signing round over the block
	// failed or timed out.
	RejectSigningFailed RejectCode = "signing_failed"

	// RejectedInVote: the signer set produced a threshold signature
	// over a rejection vote.
	RejectedInVote RejectCode = "rejected_in_vote"
)

// BlockRejection tells miners a block will not be signed, and why.
type BlockRejection struct {
	SignerSignatureHash types.Hash `json:"signer_signature_hash"`
	Code                RejectCode `json:"code"`
	Reason              string     `json:"reason,omitempty"`

	// MissingTransactions lists the expected-but-absent transactions
	// for RejectMissingTransactions.
	MissingTransactions []*tx.Transaction `json:"missing_transactions,omitempty"`

	// Signature is the serialized threshold signature for
	// RejectedInVote responses.
	Signature []byte `json:"signature,omitempty"`
}

// NewBlockRejection builds a rejection for a block hash.
func NewBlockRejection(hash types.Hash, code RejectCode) *BlockRejection {
	return &BlockRejection{SignerSignatureHash: hash, Code: code, Reason: string(code)}
}

// BlockAcceptance tells miners the signer set signed a block.
type BlockAcceptance struct {
	SignerSignatureHash types.Hash `json:"signer_signature_hash"`

	// Signature is the serialized threshold signature over the block's
	// acceptance vote.
	Signature []byte `json:"signature"`
}

// BlockResponse is a terminal signer-set verdict on a block: exactly
// one of Accepted or Rejected is set.
type BlockResponse struct {
	Accepted *BlockAcceptance `json:"accepted,omitempty"`
	Rejected *BlockRejection  `json:"rejected,omitempty"`
}

// AcceptedBlockResponse wraps a threshold acceptance signature.
func AcceptedBlockResponse(hash types.Hash, signature []byte) *BlockResponse {
	return &BlockResponse{Accepted: &BlockAcceptance{SignerSignatureHash: hash, Signature: signature}}
}

// RejectedBlockResponse wraps a rejection.
func RejectedBlockResponse(rejection *BlockRejection) *BlockResponse {
	return &BlockResponse{Rejected: rejection}
}

// MessageKind tags a SignerMessage envelope.
type MessageKind string

// Signer message kinds.
const (
	KindPacket        MessageKind = "packet"
	KindBlockResponse MessageKind = "block_response"
	KindTransactions  MessageKind = "transactions"
)

// SignerMessage is the bus envelope payload: exactly one member is set,
// per Kind.
type SignerMessage struct {
	Kind          MessageKind       `json:"kind"`
	Packet        *threshold.Packet `json:"packet,omitempty"`
	BlockResponse *BlockResponse    `json:"block_response,omitempty"`
	Transactions  []*tx.Transaction `json:"transactions,omitempty"`
}

// PacketMessage wraps a threshold packet.
func PacketMessage(p *threshold.Packet) *SignerMessage {
	return &SignerMessage{Kind: KindPacket, Packet: p}
}

// BlockResponseMessage wraps a block response.
func BlockResponseMessage(r *BlockResponse) *SignerMessage {
	return &SignerMessage{Kind: KindBlockResponse, BlockResponse: r}
}

// BlockRejectionMessage wraps a rejection as a block response.
func BlockRejectionMessage(r *BlockRejection) *SignerMessage {
	return BlockResponseMessage(RejectedBlockResponse(r))
}

// TransactionsMessage wraps this signer's pending vote transactions.
func TransactionsMessage(txns []*tx.Transaction) *SignerMessage {
	return &SignerMessage{Kind: KindTransactions, Transactions: txns}
}

// Envelope is the wire frame around a SignerMessage: the sender's slot
// and the reward cycle the message belongs to.
type Envelope struct {
	RewardCycle uint64         `json:"reward_cycle"`
	Slot        uint32         `json:"slot"`
	Message     *SignerMessage `json:"message"`
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope deserializes a received envelope, rejecting frames
// whose member does not match the declared kind.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Message == nil {
		return nil, fmt.Errorf("decode envelope: missing message")
	}
	m := e.Message
	ok := false
	switch m.Kind {
	case KindPacket:
		ok = m.Packet != nil
	case KindBlockResponse:
		ok = m.BlockResponse != nil && (m.BlockResponse.Accepted != nil) != (m.BlockResponse.Rejected != nil)
	case KindTransactions:
		ok = true
	}
	if !ok {
		return nil, fmt.Errorf("decode envelope: malformed %q message", m.Kind)
	}
	return &e, nil
}
