package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// VRFPublicKeySize is the length of a VRF public key in bytes.
const VRFPublicKeySize = 32

// VRFPublicKey is the 32-byte public key a leader registers before
// committing to blocks. Opaque at this layer; the parent-chain watcher
// validates it before delivery.
type VRFPublicKey [VRFPublicKeySize]byte

// String returns the hex-encoded key.
func (k VRFPublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns a copy of the key as a byte slice.
func (k VRFPublicKey) Bytes() []byte {
	b := make([]byte, VRFPublicKeySize)
	copy(b, k[:])
	return b
}

// MarshalJSON encodes the key as a hex string.
func (k VRFPublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a hex string into a key.
func (k *VRFPublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid vrf key hex: %w", err)
	}
	if len(decoded) != VRFPublicKeySize {
		return fmt.Errorf("vrf key must be %d bytes, got %d", VRFPublicKeySize, len(decoded))
	}
	copy(k[:], decoded)
	return nil
}

// HexToVRFPublicKey converts a hex string to a VRFPublicKey.
func HexToVRFPublicKey(s string) (VRFPublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return VRFPublicKey{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != VRFPublicKeySize {
		return VRFPublicKey{}, fmt.Errorf("vrf key must be %d bytes, got %d", VRFPublicKeySize, len(b))
	}
	var k VRFPublicKey
	copy(k[:], b)
	return k, nil
}
