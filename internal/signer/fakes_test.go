package signer

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/embernet-chain/internal/bus"
	"github.com/Klingon-tech/embernet-chain/internal/nodeclient"
	"github.com/Klingon-tech/embernet-chain/internal/threshold"
	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/tx"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// fakeNode is a scriptable NodeClient.
type fakeNode struct {
	rewardCycle   uint64
	epoch         types.EpochID
	lastRound     uint64
	hasLastRound  bool
	approvedKey   []byte
	recordedVotes map[string][]byte // "round/cycle/addr" → key
	nonces        map[types.Address]uint64
	down          bool

	submittedBlocks []*block.Block
	submittedTxs    []*tx.Transaction
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		rewardCycle:   10,
		epoch:         types.Epoch30,
		nonces:        make(map[types.Address]uint64),
		recordedVotes: make(map[string][]byte),
	}
}

// errNodeDown is typed as an RPC error so retries stop immediately in
// tests instead of backing off.
var errNodeDown = &nodeclient.RPCError{Code: -1, Message: "connection refused"}

func (n *fakeNode) CurrentRewardCycle() (uint64, error) {
	if n.down {
		return 0, errNodeDown
	}
	return n.rewardCycle, nil
}

func (n *fakeNode) SubmitBlockForValidation(blk *block.Block) error {
	if n.down {
		return errNodeDown
	}
	n.submittedBlocks = append(n.submittedBlocks, blk)
	return nil
}

func (n *fakeNode) LastDkgRound(uint64) (uint64, bool, error) {
	if n.down {
		return 0, false, errNodeDown
	}
	return n.lastRound, n.hasLastRound, nil
}

func (n *fakeNode) AccountNonce(addr types.Address) (uint64, error) {
	if n.down {
		return 0, errNodeDown
	}
	nonce, ok := n.nonces[addr]
	if !ok {
		return 0, &nodeclient.RPCError{Code: 404, Message: "unknown account"}
	}
	return nonce, nil
}

func (n *fakeNode) NodeEpoch() (types.EpochID, error) {
	if n.down {
		return 0, errNodeDown
	}
	return n.epoch, nil
}

func (n *fakeNode) ApprovedAggregateKey(uint64) ([]byte, error) {
	if n.down {
		return nil, errNodeDown
	}
	return n.approvedKey, nil
}

func (n *fakeNode) VoteForAggregateKey(round, cycle uint64, addr types.Address) ([]byte, error) {
	if n.down {
		return nil, errNodeDown
	}
	return n.recordedVotes[fmt.Sprintf("%d/%d/%s", round, cycle, addr)], nil
}

func (n *fakeNode) SubmitTransaction(txn *tx.Transaction) error {
	if n.down {
		return errNodeDown
	}
	n.submittedTxs = append(n.submittedTxs, txn)
	return nil
}

// fakeBus records outbound messages and serves canned slot contents.
type fakeBus struct {
	slot uint32
	sent []*bus.SignerMessage
	// slots maps "cycle/slot" → messages.
	slots map[string][]*bus.SignerMessage
	fail  bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{slots: make(map[string][]*bus.SignerMessage)}
}

func (b *fakeBus) SendMessageWithRetry(_ uint64, msg *bus.SignerMessage) error {
	if b.fail {
		return errors.New("bus unavailable")
	}
	b.sent = append(b.sent, msg)
	return nil
}

func (b *fakeBus) SlotTransactions(cycle uint64, slots []uint32) []*bus.SignerMessage {
	var out []*bus.SignerMessage
	for _, slot := range slots {
		out = append(out, b.slots[fmt.Sprintf("%d/%d", cycle, slot)]...)
	}
	return out
}

func (b *fakeBus) Slot() uint32 { return b.slot }

func (b *fakeBus) putSlot(cycle uint64, slot uint32, msgs ...*bus.SignerMessage) {
	b.slots[fmt.Sprintf("%d/%d", cycle, slot)] = msgs
}

// sentOfKind filters recorded sends by kind.
func (b *fakeBus) sentOfKind(kind bus.MessageKind) []*bus.SignerMessage {
	var out []*bus.SignerMessage
	for _, msg := range b.sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// fakeCoordinator is a scriptable threshold.Coordinator.
type fakeCoordinator struct {
	state        threshold.State
	dkgID        uint64
	aggregateKey []byte
	message      []byte

	startDkgCalls     int
	startSigningCalls int
	signedMessages    [][]byte

	outbound []*threshold.Packet
	results  []threshold.OperationResult
	failDkg  bool
}

func (c *fakeCoordinator) StartDkgRound() (*threshold.Packet, error) {
	if c.failDkg {
		return nil, errors.New("dkg start failed")
	}
	c.startDkgCalls++
	c.dkgID++
	c.state = threshold.StateDkg
	return &threshold.Packet{Msg: threshold.Message{Kind: threshold.MsgDkgBegin, DkgID: c.dkgID}}, nil
}

func (c *fakeCoordinator) StartSigningRound(message []byte, _ bool, _ []byte) (*threshold.Packet, error) {
	c.startSigningCalls++
	c.signedMessages = append(c.signedMessages, message)
	c.message = message
	c.state = threshold.StateSigning
	return &threshold.Packet{Msg: threshold.Message{Kind: threshold.MsgNonceRequest, Message: message}}, nil
}

func (c *fakeCoordinator) ProcessInboundMessages(packets []*threshold.Packet) ([]*threshold.Packet, []threshold.OperationResult, error) {
	out, results := c.outbound, c.results
	c.outbound, c.results = nil, nil
	return out, results, nil
}

func (c *fakeCoordinator) State() threshold.State    { return c.state }
func (c *fakeCoordinator) CurrentDkgID() uint64      { return c.dkgID }
func (c *fakeCoordinator) SetCurrentDkgID(id uint64) { c.dkgID = id }
func (c *fakeCoordinator) AggregateKey() []byte      { return c.aggregateKey }
func (c *fakeCoordinator) SetAggregateKey(k []byte)  { c.aggregateKey = k }
func (c *fakeCoordinator) CurrentMessage() []byte    { return c.message }

// fakeSigningRound is a scriptable threshold.SigningRound.
type fakeSigningRound struct {
	inbound  [][]*threshold.Packet
	outbound []*threshold.Packet
	state    []byte
	loaded   []byte
}

func (r *fakeSigningRound) ProcessInboundMessages(packets []*threshold.Packet) ([]*threshold.Packet, error) {
	r.inbound = append(r.inbound, packets)
	out := r.outbound
	r.outbound = nil
	return out, nil
}

func (r *fakeSigningRound) SaveState() ([]byte, error) {
	if r.state == nil {
		return []byte(`{"round":"state"}`), nil
	}
	return r.state, nil
}

func (r *fakeSigningRound) LoadState(data []byte) error {
	r.loaded = data
	return nil
}

// fakeVerifier accepts or rejects every packet.
type fakeVerifier struct {
	reject bool
}

func (v *fakeVerifier) Verify(*threshold.Packet, []byte) bool {
	return !v.reject
}
