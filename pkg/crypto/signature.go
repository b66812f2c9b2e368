package crypto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SignatureSize is the length of a recoverable ECDSA signature:
// one recovery byte followed by the 64-byte (r, s) pair.
const SignatureSize = 65

// Signature is a recoverable ECDSA signature over secp256k1. The public
// key that produced it can be recovered from the signature and the signed
// hash, so spending conditions never carry the key alongside it.
type Signature [SignatureSize]byte

// EmptySignature returns the all-zero signature used before signing.
func EmptySignature() Signature {
	return Signature{}
}

// IsEmpty returns true if the signature is all zeros.
func (s Signature) IsEmpty() bool {
	return s == Signature{}
}

// Bytes returns a copy of the signature as a byte slice.
func (s Signature) Bytes() []byte {
	b := make([]byte, SignatureSize)
	copy(b, s[:])
	return b
}

// String returns the hex-encoded signature.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalJSON encodes the signature as a hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a hex string into a signature.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(decoded) != SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(decoded))
	}
	copy(s[:], decoded)
	return nil
}

// SignatureFromBytes creates a Signature from a 65-byte slice.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != SignatureSize {
		return Signature{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(b))
	}
	var s Signature
	copy(s[:], b)
	return s, nil
}

// PrivateKey wraps a secp256k1 private key for recoverable ECDSA signing.
// The compress flag records how the corresponding public key is encoded
// in spending conditions.
type PrivateKey struct {
	key      *secp256k1.PrivateKey
	compress bool
}

// GenerateKey creates a new random secp256k1 private key with a
// compressed public key encoding.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key, compress: true}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
// The public key encoding defaults to compressed.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(b), compress: true}, nil
}

// SetCompressPublicKey selects whether the derived public key serializes
// compressed (33 bytes) or uncompressed (65 bytes).
func (pk *PrivateKey) SetCompressPublicKey(compress bool) {
	pk.compress = compress
}

// Sign produces a recoverable ECDSA signature over a 32-byte hash.
// The recovery byte embeds the public key encoding so recovery yields a
// key with the same compression flag.
func (pk *PrivateKey) Sign(hash []byte) (Signature, error) {
	if len(hash) != 32 {
		return Signature{}, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	compact := ecdsa.SignCompact(pk.key, hash, pk.compress)
	return SignatureFromBytes(compact)
}

// PublicKey returns the public key for this private key.
func (pk *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: pk.key.PubKey(), compressed: pk.compress}
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// PublicKey wraps a secp256k1 public key together with its declared
// encoding. Two keys with the same curve point but different encodings
// serialize — and therefore hash — differently.
type PublicKey struct {
	key        *secp256k1.PublicKey
	compressed bool
}

// ParsePublicKey parses a 33-byte compressed or 65-byte uncompressed
// public key. The encoding flag is taken from the serialized length.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	key, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &PublicKey{key: key, compressed: len(b) == 33}, nil
}

// Compressed reports whether the key serializes compressed.
func (p *PublicKey) Compressed() bool {
	return p.compressed
}

// SetCompressed overrides the key's encoding flag.
func (p *PublicKey) SetCompressed(compressed bool) {
	p.compressed = compressed
}

// Serialize returns the key in its declared encoding: 33 bytes if
// compressed, 65 bytes otherwise.
func (p *PublicKey) Serialize() []byte {
	if p.compressed {
		return p.key.SerializeCompressed()
	}
	return p.key.SerializeUncompressed()
}

// Equal reports whether two keys have the same curve point and encoding.
func (p *PublicKey) Equal(other *PublicKey) bool {
	if other == nil {
		return false
	}
	return p.compressed == other.compressed && p.key.IsEqual(other.key)
}

// EqualBytes reports whether the key's serialization matches b.
func (p *PublicKey) EqualBytes(b []byte) bool {
	return bytes.Equal(p.Serialize(), b)
}

// RecoverPublicKey recovers the public key that produced a recoverable
// signature over the given 32-byte hash. The returned key's encoding flag
// reflects the flag embedded at signing time; callers verifying spending
// conditions override it with the declared encoding.
func RecoverPublicKey(hash []byte, sig Signature) (*PublicKey, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	key, compressed, err := ecdsa.RecoverCompact(sig[:], hash)
	if err != nil {
		return nil, fmt.Errorf("recover public key: %w", err)
	}
	return &PublicKey{key: key, compressed: compressed}, nil
}
