// Package threshold defines the contract between the signer and the
// underlying threshold-signature library: the coordinator and
// signing-round state machines, the packets they exchange, and the
// operation results they terminate with. The library's wire format and
// cryptography are opaque here; implementations adapt a concrete
// FROST-style engine to these interfaces.
package threshold

import (
	"time"
)

// State is the coordinator's public protocol state. The signer only
// distinguishes idle from mid-operation.
type State int

// Coordinator states.
const (
	StateIdle State = iota
	StateDkg
	StateSigning
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDkg:
		return "dkg"
	case StateSigning:
		return "signing"
	default:
		return "unknown"
	}
}

// Config parameterizes a signing group: its size, thresholds, and the
// round timeouts. Timeouts surface as error operation results and
// return the signer to idle.
type Config struct {
	NumSigners   uint32
	NumKeys      uint32
	Threshold    uint32
	DkgThreshold uint32

	DkgPublicTimeout  time.Duration
	DkgPrivateTimeout time.Duration
	DkgEndTimeout     time.Duration
	NonceTimeout      time.Duration
	SignTimeout       time.Duration
}

// NewConfig derives group thresholds from the signer set size: signing
// needs 70% of the keys and DKG 90%, both rounded up.
func NewConfig(numSigners, numKeys uint32) Config {
	return Config{
		NumSigners:   numSigners,
		NumKeys:      numKeys,
		Threshold:    (numKeys*7 + 9) / 10,
		DkgThreshold: (numKeys*9 + 9) / 10,
	}
}

// Coordinator drives rounds for the whole group when this signer is the
// elected coordinator. One operation runs at a time.
type Coordinator interface {
	// StartDkgRound begins a distributed key generation round and
	// returns the broadcast packet that opens it. The round id
	// increments internally.
	StartDkgRound() (*Packet, error)

	// StartSigningRound begins a signing round over the message and
	// returns the broadcast packet that opens it.
	StartSigningRound(message []byte, taproot bool, merkleRoot []byte) (*Packet, error)

	// ProcessInboundMessages consumes verified packets, returning any
	// outbound packets and, when a round terminates, its results.
	ProcessInboundMessages(packets []*Packet) ([]*Packet, []OperationResult, error)

	// State reports whether an operation is in progress.
	State() State

	// CurrentDkgID returns the current DKG round id.
	CurrentDkgID() uint64

	// SetCurrentDkgID positions the next DKG round relative to the
	// last round recorded on the node.
	SetCurrentDkgID(id uint64)

	// AggregateKey returns the serialized group public key, or nil if
	// no DKG has completed or been ratified.
	AggregateKey() []byte

	// SetAggregateKey installs a ratified group public key.
	SetAggregateKey(key []byte)

	// CurrentMessage returns the message of the in-progress (or most
	// recently completed) signing round.
	CurrentMessage() []byte
}

// SigningRound is this signer's participant role: it answers the
// coordinator's requests with nonce and signature shares. Its internal
// state must survive restarts, so it round-trips through opaque bytes.
type SigningRound interface {
	// ProcessInboundMessages consumes verified packets and returns the
	// signer's response packets.
	ProcessInboundMessages(packets []*Packet) ([]*Packet, error)

	// SaveState serializes the participant state for persistence.
	SaveState() ([]byte, error)

	// LoadState restores participant state saved by SaveState.
	LoadState(data []byte) error
}

// PacketVerifier authenticates inbound packets before the signer
// processes them. Requests that only the coordinator may originate must
// verify against the current coordinator's key.
type PacketVerifier interface {
	// Verify reports whether the packet carries a valid signature from
	// its claimed sender.
	Verify(packet *Packet, coordinatorKey []byte) bool
}

// OperationResultKind tags a terminal round outcome.
type OperationResultKind int

// Operation result kinds.
const (
	// ResultSignature is a completed signing round: Signature holds the
	// serialized threshold signature over CurrentMessage.
	ResultSignature OperationResultKind = iota

	// ResultSignatureTaproot is a completed taproot signing round.
	ResultSignatureTaproot

	// ResultDkg is a completed key generation: DkgKey holds the
	// serialized aggregate public key.
	ResultDkg

	// ResultSignError is a failed or timed-out signing round.
	ResultSignError

	// ResultDkgError is a failed or timed-out key generation round.
	ResultDkgError
)

// OperationResult is the terminal outcome of a DKG or signing round.
type OperationResult struct {
	Kind      OperationResultKind
	Signature []byte
	DkgKey    []byte
	Err       error
}

// IsError reports whether the result is a failure outcome.
func (r OperationResult) IsError() bool {
	return r.Kind == ResultSignError || r.Kind == ResultDkgError
}
