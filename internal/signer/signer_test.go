package signer

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/embernet-chain/internal/bus"
	"github.com/Klingon-tech/embernet-chain/internal/signerdb"
	"github.com/Klingon-tech/embernet-chain/internal/storage"
	"github.com/Klingon-tech/embernet-chain/internal/threshold"
	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/tx"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

const testCycle = 10

// testHarness bundles a signer with its fakes.
type testHarness struct {
	signer  *Signer
	node    *fakeNode
	bus     *fakeBus
	coord   *fakeCoordinator
	round   *fakeSigningRound
	db      *signerdb.SignerDB
	key     *crypto.PrivateKey
	results chan []threshold.OperationResult
}

// ownAddress returns the harness signer's account address.
func (h *testHarness) ownAddress() types.Address {
	return tx.OriginAddress(&tx.Transaction{Auth: h.signer.ownAuth()}, false)
}

// newHarness builds a signer whose id 0 is the elected coordinator
// (its selector key sorts first).
func newHarness(t *testing.T) *testHarness {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	node := newFakeNode()
	fBus := newFakeBus()
	coord := &fakeCoordinator{}
	round := &fakeSigningRound{}
	db := signerdb.New(storage.NewMemory())
	results := make(chan []threshold.OperationResult, 8)

	cfg := Config{
		RewardCycle: testCycle,
		SignerID:    0,
		ChainID:     0x80000100,
		Mainnet:     false,
		TxFee:       10000,
		PrivateKey:  key,
		SignerPublicKeys: map[uint32][]byte{
			0: {0x01},
			1: {0x02},
		},
	}

	s, err := New(cfg, coord, round, &fakeVerifier{}, db, node, fBus, results)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &testHarness{signer: s, node: node, bus: fBus, coord: coord, round: round, db: db, key: key, results: results}
	s.cfg.SignerAddresses = []types.Address{h.ownAddress()}
	node.nonces[h.ownAddress()] = 0
	return h
}

// proposedBlock builds a structurally valid block.
func proposedBlock(t *testing.T, seed byte) *block.Block {
	t.Helper()
	header := &block.Header{
		Version:        block.CurrentVersion,
		ChainLength:    uint64(seed),
		ConsensusHash:  types.ConsensusHash{seed},
		ParentBlockID:  types.Hash{0x05},
		StateRoot:      types.Hash{0x07},
		MinerSignature: crypto.Signature{seed},
	}
	blk := block.NewBlock(header, nil)
	blk.Header.TxMerkleRoot = block.ComputeMerkleRoot(blk.TxIDs())
	return blk
}

// voteTx builds a signed aggregate-key vote from the given key.
func voteTx(t *testing.T, key *crypto.PrivateKey, dkgKey []byte, round, cycle, nonce uint64) *tx.Transaction {
	t.Helper()
	origin, err := tx.NewSinglesigP2PKH(key.PublicKey())
	if err != nil {
		t.Fatalf("NewSinglesigP2PKH: %v", err)
	}
	origin.Nonce = nonce
	txn := tx.New(0x80000100, tx.NewStandardAuth(origin),
		&tx.AggregateKeyVote{Round: round, RewardCycle: cycle, Key: dkgKey})
	if _, err := txn.SignNextOrigin(txn.InitialSighash(), key); err != nil {
		t.Fatalf("SignNextOrigin: %v", err)
	}
	return txn
}

// noncePacket wraps a block in a nonce request packet.
func noncePacket(t *testing.T, blk *block.Block) *threshold.Packet {
	t.Helper()
	raw, err := json.Marshal(blk)
	if err != nil {
		t.Fatalf("marshal block: %v", err)
	}
	return &threshold.Packet{Msg: threshold.Message{Kind: threshold.MsgNonceRequest, Message: raw}}
}

func TestProposedBlocks_CachedAndSubmitted(t *testing.T) {
	h := newHarness(t)
	blk := proposedBlock(t, 1)

	h.signer.ProcessEvent(&ProposedBlocksEvent{Blocks: []*block.Block{blk}}, testCycle)

	info, err := h.db.BlockLookup(blk.SignerSignatureHash())
	if err != nil || info == nil {
		t.Fatalf("block not cached: %v, %v", info, err)
	}
	if info.Valid != nil || info.SignedOver {
		t.Errorf("fresh proposal should be cached with no verdict: %+v", info)
	}
	if len(h.node.submittedBlocks) != 1 {
		t.Fatalf("submitted %d blocks for validation, want 1", len(h.node.submittedBlocks))
	}
}

func TestProposedBlocks_WrongCycleIgnored(t *testing.T) {
	h := newHarness(t)
	blk := proposedBlock(t, 2)

	h.signer.ProcessEvent(&ProposedBlocksEvent{Blocks: []*block.Block{blk}}, testCycle+1)

	if len(h.node.submittedBlocks) != 0 {
		t.Error("proposals outside this signer's cycle must be ignored")
	}
}

func TestSignerMessages_WrongCycleIgnored(t *testing.T) {
	h := newHarness(t)
	packet := noncePacket(t, proposedBlock(t, 3))

	h.signer.ProcessEvent(&SignerMessagesEvent{
		RewardCycle: testCycle + 1,
		Messages:    []*bus.SignerMessage{bus.PacketMessage(packet)},
	}, testCycle)

	if len(h.round.inbound) != 0 {
		t.Error("messages for another cycle must not reach the signing round")
	}
}

func TestBlockValidation_ValidTriggersSignCommand(t *testing.T) {
	h := newHarness(t)
	h.signer.approvedAggregateKey = []byte{0xaa} // tx verification skips

	blk := proposedBlock(t, 4)
	h.signer.ProcessEvent(&ProposedBlocksEvent{Blocks: []*block.Block{blk}}, testCycle)
	h.signer.ProcessEvent(&BlockValidationEvent{
		SignerSignatureHash: blk.SignerSignatureHash(),
		Valid:               true,
	}, testCycle)

	info, err := h.db.BlockLookup(blk.SignerSignatureHash())
	if err != nil || info == nil {
		t.Fatalf("block lookup: %v, %v", info, err)
	}
	if info.Valid == nil || !*info.Valid {
		t.Error("validation verdict should be recorded")
	}
	if len(h.signer.commands) != 1 || h.signer.commands[0].Kind != CommandSign {
		t.Fatalf("commands = %+v, want one Sign command", h.signer.commands)
	}

	// The idle coordinator dequeues and runs the signing round.
	h.signer.ProcessNextCommand()
	if h.coord.startSigningCalls != 1 {
		t.Fatalf("startSigningCalls = %d, want 1", h.coord.startSigningCalls)
	}
	if h.signer.State() != StateOperationInProgress {
		t.Error("executing a command should move the signer to OperationInProgress")
	}
	info, _ = h.db.BlockLookup(blk.SignerSignatureHash())
	if !info.SignedOver {
		t.Error("starting a signing round should persist SignedOver")
	}
	if len(h.bus.sentOfKind(bus.KindPacket)) != 1 {
		t.Error("the opening signing packet should go to the bus")
	}
}

func TestBlockValidation_UnknownBlockIgnored(t *testing.T) {
	h := newHarness(t)
	h.signer.ProcessEvent(&BlockValidationEvent{
		SignerSignatureHash: types.Hash{0xfe},
		Valid:               true,
	}, testCycle)
	if len(h.signer.commands) != 0 || len(h.bus.sent) != 0 {
		t.Error("a verdict for an unknown block must be dropped")
	}
}

func TestBlockValidation_RejectBroadcastsRejection(t *testing.T) {
	h := newHarness(t)
	blk := proposedBlock(t, 5)
	h.signer.ProcessEvent(&ProposedBlocksEvent{Blocks: []*block.Block{blk}}, testCycle)
	h.signer.ProcessEvent(&BlockValidationEvent{
		SignerSignatureHash: blk.SignerSignatureHash(),
		Valid:               false,
	}, testCycle)

	responses := h.bus.sentOfKind(bus.KindBlockResponse)
	if len(responses) != 1 {
		t.Fatalf("sent %d block responses, want 1", len(responses))
	}
	rejected := responses[0].BlockResponse.Rejected
	if rejected == nil || rejected.Code != bus.RejectValidationFailed {
		t.Errorf("rejection = %+v, want validation_failed", rejected)
	}
	info, _ := h.db.BlockLookup(blk.SignerSignatureHash())
	if info.Valid == nil || *info.Valid {
		t.Error("the invalid verdict should be recorded")
	}
	if len(h.signer.commands) != 0 {
		t.Error("an invalid block must not queue a sign command")
	}
}

// Scenario: a nonce request arrives before the node's verdict. The
// block is cached with the request attached and submitted for
// validation; when the verdict lands, the request replays with its
// message rewritten to this signer's vote.
func TestNonceRequest_PendingReplayAfterValidation(t *testing.T) {
	h := newHarness(t)
	blk := proposedBlock(t, 6)
	packet := noncePacket(t, blk)

	h.signer.ProcessEvent(&SignerMessagesEvent{
		RewardCycle: testCycle,
		Messages:    []*bus.SignerMessage{bus.PacketMessage(packet)},
	}, testCycle)

	// The packet is held back: nothing reached the signing round yet.
	if len(h.round.inbound) != 1 || len(h.round.inbound[0]) != 0 {
		t.Fatalf("signing round inbound = %+v, want one empty batch", h.round.inbound)
	}
	info, err := h.db.BlockLookup(blk.SignerSignatureHash())
	if err != nil || info == nil {
		t.Fatalf("block not cached: %v, %v", info, err)
	}
	if info.NonceRequest == nil || !info.SignedOver {
		t.Fatalf("cached info should hold the pending request: %+v", info)
	}
	if len(h.node.submittedBlocks) != 1 {
		t.Fatal("the block should be submitted for validation")
	}

	// Validation arrives; the pending request replays with the vote.
	h.signer.approvedAggregateKey = []byte{0xaa}
	h.signer.ProcessEvent(&BlockValidationEvent{
		SignerSignatureHash: blk.SignerSignatureHash(),
		Valid:               true,
	}, testCycle)

	if len(h.round.inbound) != 2 || len(h.round.inbound[1]) != 1 {
		t.Fatalf("signing round inbound = %d batches, want the replayed packet", len(h.round.inbound))
	}
	replayed := h.round.inbound[1][0]
	vote, err := block.ParseVote(replayed.Msg.Message)
	if err != nil {
		t.Fatalf("replayed message should be a vote: %v", err)
	}
	if vote.Rejected || vote.SignerSignatureHash != blk.SignerSignatureHash() {
		t.Errorf("vote = %+v, want acceptance of the block", vote)
	}
	info, _ = h.db.BlockLookup(blk.SignerSignatureHash())
	if info.Vote == nil || info.Vote.Rejected {
		t.Error("the vote should be recorded in the block info")
	}
	if info.NonceRequest != nil {
		t.Error("the pending request should be consumed")
	}
}

func TestNonceRequest_InvalidBlockVotesRejection(t *testing.T) {
	h := newHarness(t)
	blk := proposedBlock(t, 7)

	// Cache and mark invalid first.
	h.signer.ProcessEvent(&ProposedBlocksEvent{Blocks: []*block.Block{blk}}, testCycle)
	h.signer.ProcessEvent(&BlockValidationEvent{
		SignerSignatureHash: blk.SignerSignatureHash(),
		Valid:               false,
	}, testCycle)

	packet := noncePacket(t, blk)
	h.signer.ProcessEvent(&SignerMessagesEvent{
		RewardCycle: testCycle,
		Messages:    []*bus.SignerMessage{bus.PacketMessage(packet)},
	}, testCycle)

	// The request passes through with a rejection vote.
	last := h.round.inbound[len(h.round.inbound)-1]
	if len(last) != 1 {
		t.Fatalf("want the rewritten request to reach the signing round, got %d packets", len(last))
	}
	vote, err := block.ParseVote(last[0].Msg.Message)
	if err != nil {
		t.Fatalf("rewritten message should be a vote: %v", err)
	}
	if !vote.Rejected {
		t.Error("the vote over an invalid block must be a rejection")
	}
}

func TestSignatureShareRequest_OverwritesWithRecordedVote(t *testing.T) {
	h := newHarness(t)
	blk := proposedBlock(t, 8)
	recorded := &block.Vote{SignerSignatureHash: blk.SignerSignatureHash(), Rejected: true}
	info := signerdb.NewBlockInfo(blk)
	info.Vote = recorded
	if err := h.db.InsertBlock(info); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	// A dishonest coordinator asks us to sign an acceptance instead.
	forged := &block.Vote{SignerSignatureHash: blk.SignerSignatureHash(), Rejected: false}
	request := &threshold.Message{Kind: threshold.MsgSignatureShareRequest, Message: forged.Serialize()}
	if !h.signer.validateSignatureShareRequest(request) {
		t.Fatal("a request for a voted block should validate")
	}
	if !bytes.Equal(request.Message, recorded.Serialize()) {
		t.Error("the request message must be overwritten with the recorded vote")
	}
}

func TestSignatureShareRequest_RejectPaths(t *testing.T) {
	h := newHarness(t)

	// Unknown block.
	vote := &block.Vote{SignerSignatureHash: types.Hash{0x09}}
	request := &threshold.Message{Kind: threshold.MsgSignatureShareRequest, Message: vote.Serialize()}
	if h.signer.validateSignatureShareRequest(request) {
		t.Error("a request for an unknown block must be rejected")
	}

	// Known block, no recorded vote.
	blk := proposedBlock(t, 9)
	if err := h.db.InsertBlock(signerdb.NewBlockInfo(blk)); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	vote = &block.Vote{SignerSignatureHash: blk.SignerSignatureHash()}
	request = &threshold.Message{Kind: threshold.MsgSignatureShareRequest, Message: vote.Serialize()}
	if h.signer.validateSignatureShareRequest(request) {
		t.Error("a request for a block we never agreed to sign must be rejected")
	}

	// Not a vote at all.
	request = &threshold.Message{Kind: threshold.MsgSignatureShareRequest, Message: []byte("junk")}
	if h.signer.validateSignatureShareRequest(request) {
		t.Error("a non-vote message must be rejected")
	}
}

func TestVerifyPacket_RejectedSignature(t *testing.T) {
	h := newHarness(t)
	h.signer.verifier = &fakeVerifier{reject: true}
	packet := noncePacket(t, proposedBlock(t, 10))

	h.signer.ProcessEvent(&SignerMessagesEvent{
		RewardCycle: testCycle,
		Messages:    []*bus.SignerMessage{bus.PacketMessage(packet)},
	}, testCycle)

	if len(h.node.submittedBlocks) != 0 {
		t.Error("an unverifiable packet must not trigger block submission")
	}
}

func TestExecuteCommand_DkgStartsRound(t *testing.T) {
	h := newHarness(t)
	h.node.lastRound = 3
	h.node.hasLastRound = true
	h.signer.QueueCommand(Command{Kind: CommandDkg})

	h.signer.ProcessNextCommand()

	if h.coord.startDkgCalls != 1 {
		t.Fatalf("startDkgCalls = %d, want 1", h.coord.startDkgCalls)
	}
	// The id is positioned at the node's last round before starting;
	// the round start increments it internally.
	if h.coord.dkgID != 4 {
		t.Errorf("dkg id = %d, want 4", h.coord.dkgID)
	}
	if h.signer.State() != StateOperationInProgress {
		t.Error("DKG should move the signer to OperationInProgress")
	}
	if len(h.bus.sentOfKind(bus.KindPacket)) != 1 {
		t.Error("the DKG begin packet should go to the bus")
	}
}

func TestExecuteCommand_DkgAbortsWithApprovedKey(t *testing.T) {
	h := newHarness(t)
	h.signer.approvedAggregateKey = []byte{0x01}
	h.signer.QueueCommand(Command{Kind: CommandDkg})

	h.signer.ProcessNextCommand()

	if h.coord.startDkgCalls != 0 {
		t.Error("DKG must not start when an aggregate key is already approved")
	}
	if h.signer.State() != StateIdle {
		t.Error("an aborted command leaves the signer idle")
	}
}

func TestExecuteCommand_SignAbortsWithoutKey(t *testing.T) {
	h := newHarness(t)
	h.signer.QueueCommand(Command{Kind: CommandSign, Block: proposedBlock(t, 11)})

	h.signer.ProcessNextCommand()

	if h.coord.startSigningCalls != 0 {
		t.Error("signing must not start without an approved aggregate key")
	}
}

func TestExecuteCommand_SignAbortsWhenSignedOver(t *testing.T) {
	h := newHarness(t)
	h.signer.approvedAggregateKey = []byte{0x01}
	blk := proposedBlock(t, 12)
	info := signerdb.NewBlockInfo(blk)
	info.SignedOver = true
	if err := h.db.InsertBlock(info); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	h.signer.QueueCommand(Command{Kind: CommandSign, Block: blk})

	h.signer.ProcessNextCommand()

	if h.coord.startSigningCalls != 0 {
		t.Error("signing must not restart for a block already signed over")
	}
}

func TestProcessNextCommand_NotCoordinator(t *testing.T) {
	h := newHarness(t)
	h.signer.cfg.SignerID = 1 // selector still elects signer 0
	h.signer.QueueCommand(Command{Kind: CommandDkg})

	h.signer.ProcessNextCommand()

	if h.coord.startDkgCalls != 0 {
		t.Error("a non-coordinator must not execute commands")
	}
	if len(h.signer.commands) != 1 {
		t.Error("the command should stay queued")
	}
}

func TestProcessNextCommand_BusyWaits(t *testing.T) {
	h := newHarness(t)
	h.signer.state = StateOperationInProgress
	h.signer.QueueCommand(Command{Kind: CommandDkg})

	h.signer.ProcessNextCommand()

	if h.coord.startDkgCalls != 0 {
		t.Error("a second command must wait for the running operation")
	}
}

func TestHandlePackets_ResultsReturnToIdle(t *testing.T) {
	h := newHarness(t)
	h.signer.state = StateOperationInProgress
	h.coord.results = []threshold.OperationResult{
		{Kind: threshold.ResultDkg, DkgKey: []byte{0xd1}},
	}

	h.signer.handlePackets(nil)

	if h.signer.State() != StateIdle {
		t.Error("a terminal operation result must return the signer to Idle")
	}
	select {
	case got := <-h.results:
		if len(got) != 1 || got[0].Kind != threshold.ResultDkg {
			t.Errorf("results = %+v", got)
		}
	default:
		t.Error("operation results should be dispatched to the output channel")
	}
	// A DKG result in epoch 3.0 broadcasts the vote to the bus only.
	if len(h.bus.sentOfKind(bus.KindTransactions)) != 1 {
		t.Error("the DKG vote should be broadcast to the bus")
	}
	if len(h.node.submittedTxs) != 0 {
		t.Error("epoch 3.0 must not touch the mempool")
	}
}

func TestHandlePackets_MidOperationUpdatesTimer(t *testing.T) {
	h := newHarness(t)
	h.coord.state = threshold.StateSigning
	packet := &threshold.Packet{Msg: threshold.Message{Kind: threshold.MsgNonceResponse}}

	h.signer.handlePackets([]*threshold.Packet{packet})

	if h.signer.State() != StateOperationInProgress {
		t.Error("packets during a round keep the signer in OperationInProgress")
	}
}

func TestHandlePackets_PersistsSigningRound(t *testing.T) {
	h := newHarness(t)
	h.signer.handlePackets(nil)

	state, err := h.db.GetSignerState(0, testCycle)
	if err != nil {
		t.Fatalf("GetSignerState: %v", err)
	}
	if state == nil {
		t.Error("signing round state should persist after every packet batch")
	}
}

func TestHandlePackets_ParticipantRepliesBeforeCoordinator(t *testing.T) {
	h := newHarness(t)
	h.round.outbound = []*threshold.Packet{
		{Msg: threshold.Message{Kind: threshold.MsgNonceResponse, SignerID: 1}},
	}
	h.coord.outbound = []*threshold.Packet{
		{Msg: threshold.Message{Kind: threshold.MsgSignatureShareRequest}},
	}

	h.signer.handlePackets(nil)

	packets := h.bus.sentOfKind(bus.KindPacket)
	if len(packets) != 2 {
		t.Fatalf("sent %d packets, want 2", len(packets))
	}
	if packets[0].Packet.Msg.Kind != threshold.MsgNonceResponse {
		t.Error("the participant's own response must be published first")
	}
	if packets[1].Packet.Msg.Kind != threshold.MsgSignatureShareRequest {
		t.Error("the coordinator broadcast follows the participant response")
	}
}
