package signer

import (
	"github.com/Klingon-tech/embernet-chain/internal/bus"
	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Event is an input drained from the node's event observer or the bus.
// Events are processed one at a time, in arrival order.
type Event interface {
	isEvent()
}

// BlockValidationEvent is the node's verdict on a block previously
// submitted for validation.
type BlockValidationEvent struct {
	SignerSignatureHash types.Hash
	Valid               bool
}

func (*BlockValidationEvent) isEvent() {}

// SignerMessagesEvent is a batch of bus messages for one reward cycle.
// Messages addressed to a different cycle are ignored silently.
type SignerMessagesEvent struct {
	RewardCycle uint64
	Messages    []*bus.SignerMessage
}

func (*SignerMessagesEvent) isEvent() {}

// ProposedBlocksEvent carries blocks broadcast by miners.
type ProposedBlocksEvent struct {
	Blocks []*block.Block
}

func (*ProposedBlocksEvent) isEvent() {}

// StatusCheckEvent is a liveness probe; processing it is a no-op
// except logging.
type StatusCheckEvent struct{}

func (*StatusCheckEvent) isEvent() {}
