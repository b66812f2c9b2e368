// Package types defines core primitive types for the Embernet chain.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length of a hash in bytes.
const HashSize = 32

// Hash160Size is the length of a truncated hash in bytes.
const Hash160Size = 20

// Hash represents a 256-bit hash value.
type Hash [HashSize]byte

// Hash160 represents a 160-bit hash value — the first 20 bytes of a Hash.
// Used for signer key hashes and committed-block back-references.
type Hash160 [Hash160Size]byte

// TxID identifies a transaction, on either the parent chain or this chain.
type TxID Hash

// ConsensusHash is the 160-bit consensus hash carried by parent-chain
// operations and block headers.
type ConsensusHash [Hash160Size]byte

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex-encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(decoded) != HashSize {
		return fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HexToHash converts a hex string to a Hash.
// Returns an error if the string is not exactly 64 hex characters.
func HexToHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// IsZero returns true if the truncated hash is all zeros.
func (h Hash160) IsZero() bool {
	return h == Hash160{}
}

// String returns the hex-encoded truncated hash.
func (h Hash160) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the truncated hash as a byte slice.
func (h Hash160) Bytes() []byte {
	b := make([]byte, Hash160Size)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the truncated hash as a hex string.
func (h Hash160) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a truncated hash.
func (h *Hash160) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash160{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(decoded) != Hash160Size {
		return fmt.Errorf("hash must be %d bytes, got %d", Hash160Size, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HexToHash160 converts a hex string to a Hash160.
// Returns an error if the string is not exactly 40 hex characters.
func HexToHash160(s string) (Hash160, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash160{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != Hash160Size {
		return Hash160{}, fmt.Errorf("hash must be %d bytes, got %d", Hash160Size, len(b))
	}
	var h Hash160
	copy(h[:], b)
	return h, nil
}

// String returns the hex-encoded transaction ID.
func (t TxID) String() string {
	return Hash(t).String()
}

// MarshalJSON encodes the transaction ID as a hex string.
func (t TxID) MarshalJSON() ([]byte, error) {
	return Hash(t).MarshalJSON()
}

// UnmarshalJSON decodes a hex string into a transaction ID.
func (t *TxID) UnmarshalJSON(data []byte) error {
	return (*Hash)(t).UnmarshalJSON(data)
}

// String returns the hex-encoded consensus hash.
func (c ConsensusHash) String() string {
	return hex.EncodeToString(c[:])
}

// MarshalJSON encodes the consensus hash as a hex string.
func (c ConsensusHash) MarshalJSON() ([]byte, error) {
	return Hash160(c).MarshalJSON()
}

// UnmarshalJSON decodes a hex string into a consensus hash.
func (c *ConsensusHash) UnmarshalJSON(data []byte) error {
	return (*Hash160)(c).UnmarshalJSON(data)
}
