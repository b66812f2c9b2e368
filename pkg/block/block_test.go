package block

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/tx"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// testBlock returns a structurally valid block with one transaction.
func testBlock(t *testing.T) *Block {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	origin, err := tx.NewSinglesigP2PKH(key.PublicKey())
	if err != nil {
		t.Fatalf("NewSinglesigP2PKH: %v", err)
	}
	txn := tx.New(1, tx.NewStandardAuth(origin), tx.RawPayload([]byte("noop")))
	if _, err := txn.SignNextOrigin(txn.InitialSighash(), key); err != nil {
		t.Fatalf("SignNextOrigin: %v", err)
	}

	header := &Header{
		Version:       CurrentVersion,
		ChainLength:   42,
		BurnSpent:     1000,
		ConsensusHash: types.ConsensusHash{0x04},
		ParentBlockID: types.Hash{0x05},
		StateRoot:     types.Hash{0x07},
	}
	blk := NewBlock(header, []*tx.Transaction{txn})
	blk.Header.TxMerkleRoot = ComputeMerkleRoot(blk.TxIDs())
	blk.Header.MinerSignature = crypto.Signature{0x01}
	return blk
}

func TestHeader_SignerSignatureHashStable(t *testing.T) {
	blk := testBlock(t)
	before := blk.SignerSignatureHash()

	blk.Header.SignerSignature = []byte{0xaa, 0xbb}
	if blk.SignerSignatureHash() != before {
		t.Error("signer signature hash must not change when the threshold signature is attached")
	}
	if blk.BlockID() == before {
		t.Error("block ID should cover the signer signature")
	}
}

func TestHeader_HashCoversMinerSignature(t *testing.T) {
	blk := testBlock(t)
	before := blk.SignerSignatureHash()

	blk.Header.MinerSignature = crypto.Signature{0xff}
	if blk.SignerSignatureHash() == before {
		t.Error("signer signature hash must cover the miner signature")
	}
}

func TestHeader_JSONRoundtrip(t *testing.T) {
	blk := testBlock(t)
	blk.Header.SignerSignature = []byte{0x01, 0x02, 0x03}

	data, err := json.Marshal(blk)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Block
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.SignerSignatureHash() != blk.SignerSignatureHash() {
		t.Error("JSON roundtrip should keep the signer signature hash")
	}
	if got.BlockID() != blk.BlockID() {
		t.Error("JSON roundtrip should keep the block ID")
	}
	if len(got.Transactions) != 1 || got.Transactions[0].TxID() != blk.Transactions[0].TxID() {
		t.Error("JSON roundtrip should keep the transactions")
	}
}

func TestBlock_Validate(t *testing.T) {
	blk := testBlock(t)
	if err := blk.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	t.Run("nil header", func(t *testing.T) {
		bad := &Block{}
		if err := bad.Validate(); !errors.Is(err, ErrNilHeader) {
			t.Errorf("err = %v, want ErrNilHeader", err)
		}
	})

	t.Run("bad version", func(t *testing.T) {
		bad := testBlock(t)
		bad.Header.Version = 99
		if err := bad.Validate(); !errors.Is(err, ErrBadVersion) {
			t.Errorf("err = %v, want ErrBadVersion", err)
		}
	})

	t.Run("missing miner signature", func(t *testing.T) {
		bad := testBlock(t)
		bad.Header.MinerSignature = crypto.EmptySignature()
		if err := bad.Validate(); !errors.Is(err, ErrMissingMiner) {
			t.Errorf("err = %v, want ErrMissingMiner", err)
		}
	})

	t.Run("bad merkle root", func(t *testing.T) {
		bad := testBlock(t)
		bad.Header.TxMerkleRoot = types.Hash{0xde, 0xad}
		if err := bad.Validate(); !errors.Is(err, ErrBadMerkleRoot) {
			t.Errorf("err = %v, want ErrBadMerkleRoot", err)
		}
	})
}

func TestVote_Roundtrip(t *testing.T) {
	for _, rejected := range []bool{false, true} {
		v := &Vote{SignerSignatureHash: types.Hash{0x01, 0x02}, Rejected: rejected}
		raw := v.Serialize()
		if len(raw) != voteEncodedSize {
			t.Fatalf("vote encodes to %d bytes, want %d", len(raw), voteEncodedSize)
		}
		got, err := ParseVote(raw)
		if err != nil {
			t.Fatalf("ParseVote: %v", err)
		}
		if *got != *v {
			t.Errorf("roundtrip = %+v, want %+v", got, v)
		}
	}
}

func TestParseVote_Invalid(t *testing.T) {
	if _, err := ParseVote([]byte{0x01}); !errors.Is(err, ErrBadVote) {
		t.Errorf("short input: err = %v, want ErrBadVote", err)
	}
	raw := (&Vote{}).Serialize()
	raw[types.HashSize] = 0x02
	if _, err := ParseVote(raw); !errors.Is(err, ErrBadVote) {
		t.Errorf("bad flag: err = %v, want ErrBadVote", err)
	}
}
