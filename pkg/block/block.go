// Package block defines the chain's block types, the signer vote codec,
// and structural validation.
package block

import (
	"encoding/binary"

	"github.com/Klingon-tech/embernet-chain/pkg/tx"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Block represents a proposed or signed block.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a new block with the given header and transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// SignerSignatureHash returns the hash the signer set signs over.
func (b *Block) SignerSignatureHash() types.Hash {
	return b.Header.SignerSignatureHash()
}

// BlockID returns the fully-signed block identifier.
func (b *Block) BlockID() types.Hash {
	return b.Header.BlockID()
}

// TxIDs returns the transaction identifiers in block order.
func (b *Block) TxIDs() []types.Hash {
	ids := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		ids[i] = types.Hash(t.TxID())
	}
	return ids
}

// appendUint64 appends a big-endian uint64, matching the consensus
// byte order used across the wire formats.
func appendUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}
