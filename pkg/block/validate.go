package block

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader     = errors.New("block has nil header")
	ErrBadMerkleRoot = errors.New("tx merkle root mismatch")
	ErrBadVersion    = errors.New("unsupported block version")
	ErrMissingMiner  = errors.New("block missing miner signature")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// Validate checks block structure and internal consistency. Full
// validation — chain linkage, burn accounting, payload execution — is
// the node's job; the signer only rules out blocks that are malformed
// before submitting them.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}

	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}

	if b.Header.MinerSignature.IsEmpty() {
		return ErrMissingMiner
	}

	expectedRoot := ComputeMerkleRoot(b.TxIDs())
	if b.Header.TxMerkleRoot != expectedRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.TxMerkleRoot, expectedRoot)
	}

	return nil
}

// Hash returns the block's signer-signature hash, the identity every
// signer-side store keys on.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.SignerSignatureHash()
}
