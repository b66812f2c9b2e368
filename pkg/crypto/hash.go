// Package crypto provides cryptographic primitives for Embernet.
package crypto

import (
	"github.com/Klingon-tech/embernet-chain/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes the system 256-bit hash (BLAKE3-256) of the input data.
// Every commitment in this system — transaction IDs, sighashes, signer
// signature hashes — is computed with this function.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// Hash160 computes the 160-bit truncation of Hash: the first 20 bytes.
// Used for key hashes and committed-block back-references.
func Hash160(data []byte) types.Hash160 {
	h := Hash(data)
	var out types.Hash160
	copy(out[:], h[:types.Hash160Size])
	return out
}

// Hash160FromHash truncates an already-computed hash to 160 bits.
func Hash160FromHash(h types.Hash) types.Hash160 {
	var out types.Hash160
	copy(out[:], h[:types.Hash160Size])
	return out
}

// HashConcat hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
