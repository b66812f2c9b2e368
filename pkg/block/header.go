package block

import (
	"encoding/hex"
	"encoding/json"

	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Header contains block metadata. Two signatures accumulate on a header
// as it moves through the pipeline: the proposing miner's recoverable
// signature, then the signer set's threshold signature over the
// signer-signature hash.
type Header struct {
	Version       uint8               `json:"version"`
	ChainLength   uint64              `json:"chain_length"`
	BurnSpent     uint64              `json:"burn_spent"`
	ConsensusHash types.ConsensusHash `json:"consensus_hash"`
	ParentBlockID types.Hash          `json:"parent_block_id"`
	TxMerkleRoot  types.Hash          `json:"tx_merkle_root"`
	StateRoot     types.Hash          `json:"state_root"`

	MinerSignature crypto.Signature `json:"miner_signature"`

	// SignerSignature is the threshold signature produced by the signer
	// set. Opaque here; its format belongs to the threshold library.
	SignerSignature []byte `json:"signer_signature,omitempty"`
}

// headerJSON is the JSON representation of Header with the signer
// signature hex-encoded.
type headerJSON struct {
	Version         uint8               `json:"version"`
	ChainLength     uint64              `json:"chain_length"`
	BurnSpent       uint64              `json:"burn_spent"`
	ConsensusHash   types.ConsensusHash `json:"consensus_hash"`
	ParentBlockID   types.Hash          `json:"parent_block_id"`
	TxMerkleRoot    types.Hash          `json:"tx_merkle_root"`
	StateRoot       types.Hash          `json:"state_root"`
	MinerSignature  crypto.Signature    `json:"miner_signature"`
	SignerSignature string              `json:"signer_signature,omitempty"`
}

// MarshalJSON encodes the header with a hex-encoded signer signature.
func (h *Header) MarshalJSON() ([]byte, error) {
	j := headerJSON{
		Version:        h.Version,
		ChainLength:    h.ChainLength,
		BurnSpent:      h.BurnSpent,
		ConsensusHash:  h.ConsensusHash,
		ParentBlockID:  h.ParentBlockID,
		TxMerkleRoot:   h.TxMerkleRoot,
		StateRoot:      h.StateRoot,
		MinerSignature: h.MinerSignature,
	}
	if h.SignerSignature != nil {
		j.SignerSignature = hex.EncodeToString(h.SignerSignature)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a header with a hex-encoded signer signature.
func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h.Version = j.Version
	h.ChainLength = j.ChainLength
	h.BurnSpent = j.BurnSpent
	h.ConsensusHash = j.ConsensusHash
	h.ParentBlockID = j.ParentBlockID
	h.TxMerkleRoot = j.TxMerkleRoot
	h.StateRoot = j.StateRoot
	h.MinerSignature = j.MinerSignature
	h.SignerSignature = nil
	if j.SignerSignature != "" {
		b, err := hex.DecodeString(j.SignerSignature)
		if err != nil {
			return err
		}
		h.SignerSignature = b
	}
	return nil
}

// baseBytes returns the canonical header bytes without either signature.
// Format: version(1) | chain_length(be8) | burn_spent(be8) |
// consensus_hash(20) | parent_block_id(32) | tx_merkle_root(32) |
// state_root(32)
func (h *Header) baseBytes() []byte {
	buf := make([]byte, 0, 1+8+8+20+32+32+32)
	buf = append(buf, h.Version)
	buf = appendUint64(buf, h.ChainLength)
	buf = appendUint64(buf, h.BurnSpent)
	buf = append(buf, h.ConsensusHash[:]...)
	buf = append(buf, h.ParentBlockID[:]...)
	buf = append(buf, h.TxMerkleRoot[:]...)
	buf = append(buf, h.StateRoot[:]...)
	return buf
}

// MinerSigHash returns the digest the proposing miner signs: the header
// without either signature.
func (h *Header) MinerSigHash() types.Hash {
	return crypto.Hash(h.baseBytes())
}

// SignerSignatureHash returns the digest the signer set signs over and
// the key every signer store uses for this block: the header including
// the miner's signature but excluding the signer signature, so the hash
// is stable while the threshold signature accumulates.
func (h *Header) SignerSignatureHash() types.Hash {
	buf := h.baseBytes()
	buf = append(buf, h.MinerSignature[:]...)
	return crypto.Hash(buf)
}

// BlockID returns the fully-signed block identifier.
func (h *Header) BlockID() types.Hash {
	buf := h.baseBytes()
	buf = append(buf, h.MinerSignature[:]...)
	buf = append(buf, h.SignerSignature...)
	return crypto.Hash(buf)
}
