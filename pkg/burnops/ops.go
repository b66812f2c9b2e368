// Package burnops defines the parent-chain operation records consumed by
// the sortition pipeline. The parent-chain watcher parses and validates
// raw transactions; this package only models the already-validated
// records and the payload layouts that are consensus-critical.
package burnops

import (
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// LeaderKeyRegisterOp registers a leader's VRF public key. A later block
// commit references it by (BlockHeight, VTxIndex).
type LeaderKeyRegisterOp struct {
	ConsensusHash types.ConsensusHash `json:"consensus_hash"`
	PublicKey     types.VRFPublicKey  `json:"public_key"`
	Memo          []byte              `json:"memo,omitempty"`

	TxID        types.TxID `json:"txid"`
	VTxIndex    uint32     `json:"vtxindex"`
	BlockHeight uint64     `json:"block_height"`
	BurnHeader  types.Hash `json:"burn_header_hash"`
}

// BlockCommitOp commits a leader to a block, burning BurnFee base units.
// The committed leader key is addressed relative to the commit itself:
// (BlockHeight - KeyBlockBackptr, KeyVTxIndex).
type BlockCommitOp struct {
	BlockHeaderHash types.Hash `json:"block_header_hash"`
	KeyBlockBackptr uint16     `json:"key_block_backptr"`
	KeyVTxIndex     uint16     `json:"key_vtxindex"`
	Memo            []byte     `json:"memo,omitempty"`
	BurnFee         uint64     `json:"burn_fee"`

	TxID        types.TxID `json:"txid"`
	VTxIndex    uint32     `json:"vtxindex"`
	BlockHeight uint64     `json:"block_height"`
	BurnHeader  types.Hash `json:"burn_header_hash"`
}

// KeyBlockHeight returns the parent-chain height of the leader key this
// commit references.
func (op *BlockCommitOp) KeyBlockHeight() uint64 {
	return op.BlockHeight - uint64(op.KeyBlockBackptr)
}

// UserBurnSupportOp is a third-party burn supporting a (key, block) pair
// committed to in the same parent-chain block. The committed block is
// referenced by the 160-bit truncation of its header hash.
type UserBurnSupportOp struct {
	ConsensusHash      types.ConsensusHash `json:"consensus_hash"`
	PublicKey          types.VRFPublicKey  `json:"public_key"`
	BlockHeaderHash160 types.Hash160       `json:"block_header_hash_160"`
	Memo               []byte              `json:"memo,omitempty"`
	BurnFee            uint64              `json:"burn_fee"`

	TxID        types.TxID `json:"txid"`
	VTxIndex    uint32     `json:"vtxindex"`
	BlockHeight uint64     `json:"block_height"`
	BurnHeader  types.Hash `json:"burn_header_hash"`
}
