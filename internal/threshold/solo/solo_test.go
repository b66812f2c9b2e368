package solo

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/embernet-chain/internal/threshold"
	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

func testEngine(t *testing.T) (*Engine, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return New(key, threshold.NewConfig(1, 1)), key
}

func testBlock() *block.Block {
	header := &block.Header{
		Version:        block.CurrentVersion,
		ChainLength:    9,
		ConsensusHash:  types.ConsensusHash{0x01},
		MinerSignature: crypto.Signature{0x02},
	}
	blk := block.NewBlock(header, nil)
	blk.Header.TxMerkleRoot = block.ComputeMerkleRoot(blk.TxIDs())
	return blk
}

func TestDkgRound_CompletesWithOwnKey(t *testing.T) {
	engine, key := testEngine(t)

	packet, err := engine.StartDkgRound()
	if err != nil {
		t.Fatalf("StartDkgRound: %v", err)
	}
	if packet.Msg.Kind != threshold.MsgDkgBegin || packet.Msg.DkgID != 1 {
		t.Errorf("begin packet = %+v", packet.Msg)
	}
	if engine.State() != threshold.StateDkg {
		t.Error("a started round reports its state")
	}

	_, results, err := engine.ProcessInboundMessages(nil)
	if err != nil {
		t.Fatalf("ProcessInboundMessages: %v", err)
	}
	if len(results) != 1 || results[0].Kind != threshold.ResultDkg {
		t.Fatalf("results = %+v, want one DKG result", results)
	}
	if !bytes.Equal(results[0].DkgKey, key.PublicKey().Serialize()) {
		t.Error("the solo group key is the operator's own key")
	}
	if engine.State() != threshold.StateIdle {
		t.Error("surfacing results returns the engine to idle")
	}
}

func TestSigningRound_SignsAcceptanceVote(t *testing.T) {
	engine, key := testEngine(t)
	blk := testBlock()
	message, err := json.Marshal(blk)
	if err != nil {
		t.Fatalf("marshal block: %v", err)
	}

	packet, err := engine.StartSigningRound(message, false, nil)
	if err != nil {
		t.Fatalf("StartSigningRound: %v", err)
	}
	if packet.Msg.Kind != threshold.MsgNonceRequest {
		t.Errorf("opening packet kind = %v", packet.Msg.Kind)
	}

	// The engine's current message is the acceptance vote.
	vote, err := block.ParseVote(engine.CurrentMessage())
	if err != nil {
		t.Fatalf("current message should be a vote: %v", err)
	}
	if vote.Rejected || vote.SignerSignatureHash != blk.SignerSignatureHash() {
		t.Errorf("vote = %+v", vote)
	}

	_, results, err := engine.ProcessInboundMessages(nil)
	if err != nil {
		t.Fatalf("ProcessInboundMessages: %v", err)
	}
	if len(results) != 1 || results[0].Kind != threshold.ResultSignature {
		t.Fatalf("results = %+v, want one signature", results)
	}

	// The signature is recoverable to the operator's key over the vote.
	sig, err := crypto.SignatureFromBytes(results[0].Signature)
	if err != nil {
		t.Fatalf("SignatureFromBytes: %v", err)
	}
	digest := crypto.Hash(engine.CurrentMessage())
	pub, err := crypto.RecoverPublicKey(digest[:], sig)
	if err != nil {
		t.Fatalf("RecoverPublicKey: %v", err)
	}
	if !pub.Equal(key.PublicKey()) {
		t.Error("the vote signature should recover to the operator's key")
	}
}

func TestSigningRound_RejectsNonBlock(t *testing.T) {
	engine, _ := testEngine(t)
	if _, err := engine.StartSigningRound([]byte("junk"), false, nil); err == nil {
		t.Error("expected error for a non-block message")
	}
	if _, err := engine.StartSigningRound(nil, true, nil); err == nil {
		t.Error("expected error for taproot signing")
	}
}

func TestRound_StatePersistence(t *testing.T) {
	engine, _ := testEngine(t)
	round := NewRound(engine)
	if _, err := engine.StartDkgRound(); err != nil {
		t.Fatalf("StartDkgRound: %v", err)
	}

	saved, err := round.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	restoredEngine, _ := testEngine(t)
	restored := NewRound(restoredEngine)
	if err := restored.LoadState(saved); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if restoredEngine.CurrentDkgID() != engine.CurrentDkgID() {
		t.Error("the DKG round id should survive a restart")
	}
	if !bytes.Equal(restoredEngine.AggregateKey(), engine.AggregateKey()) {
		t.Error("the aggregate key should survive a restart")
	}
}

func TestVerifier(t *testing.T) {
	engine, key := testEngine(t)
	packet, err := engine.StartDkgRound()
	if err != nil {
		t.Fatalf("StartDkgRound: %v", err)
	}

	v := Verifier{}
	if !v.Verify(packet, key.PublicKey().Serialize()) {
		t.Error("a packet signed by the coordinator should verify")
	}

	other, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if v.Verify(packet, other.PublicKey().Serialize()) {
		t.Error("a coordinator message must recover to the coordinator's key")
	}

	packet.Sig = []byte{0x01}
	if v.Verify(packet, key.PublicKey().Serialize()) {
		t.Error("a malformed signature must not verify")
	}
}
