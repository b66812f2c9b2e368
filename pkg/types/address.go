package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Address version bytes. The version selects network (mainnet/testnet)
// and spending-condition arity (single-sig/multisig).
const (
	AddressVersionMainnetSinglesig byte = 22
	AddressVersionMainnetMultisig  byte = 20
	AddressVersionTestnetSinglesig byte = 26
	AddressVersionTestnetMultisig  byte = 21
)

// Address HRP (human-readable part) constants for bech32 encoding.
const (
	MainnetHRP = "em"
	TestnetHRP = "tem"
)

// Address is a versioned 160-bit account address: a version byte selecting
// network and arity, plus the 20-byte hash of the spending keys.
type Address struct {
	Version byte
	Hash    Hash160
}

// IsZero returns true if the address hash is all zeros and the version unset.
func (a Address) IsZero() bool {
	return a.Version == 0 && a.Hash.IsZero()
}

// IsMainnet returns true if the version byte selects a mainnet address.
func (a Address) IsMainnet() bool {
	return a.Version == AddressVersionMainnetSinglesig || a.Version == AddressVersionMainnetMultisig
}

// String returns the bech32-encoded address ("em1..." or "tem1...").
// The version byte is carried as the first data byte.
func (a Address) String() string {
	hrp := MainnetHRP
	if !a.IsMainnet() {
		hrp = TestnetHRP
	}
	data := make([]byte, 1+Hash160Size)
	data[0] = a.Version
	copy(data[1:], a.Hash[:])
	s, err := Bech32Encode(hrp, data)
	if err != nil {
		// Fallback to hex if encoding fails (should never happen).
		return fmt.Sprintf("%s:%02x%s", hrp, a.Version, hex.EncodeToString(a.Hash[:]))
	}
	return s
}

// MarshalJSON encodes the address as a bech32 string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a bech32 or raw hex string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a bech32 address string ("em1...", "tem1...") or a
// raw 42-char hex string (version byte + hash, for genesis/internal use).
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}

	if strings.HasPrefix(s, MainnetHRP+"1") || strings.HasPrefix(s, TestnetHRP+"1") {
		_, data, err := Bech32Decode(s)
		if err != nil {
			return Address{}, fmt.Errorf("invalid bech32 address: %w", err)
		}
		if len(data) != 1+Hash160Size {
			return Address{}, fmt.Errorf("address payload must be %d bytes, got %d", 1+Hash160Size, len(data))
		}
		var a Address
		a.Version = data[0]
		copy(a.Hash[:], data[1:])
		return a, nil
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address: %w", err)
	}
	if len(decoded) != 1+Hash160Size {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", 1+Hash160Size, len(decoded))
	}
	var a Address
	a.Version = decoded[0]
	copy(a.Hash[:], decoded[1:])
	return a, nil
}
