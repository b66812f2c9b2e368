// Package bnum provides the fixed-width unsigned integers used by the
// sortition range arithmetic: 256-bit values for positions in the hash
// space and 512-bit values for the fixed-point scaling that computes them.
package bnum

import (
	"github.com/holiman/uint256"
)

// U256 is an unsigned 256-bit integer: four little-endian 64-bit limbs.
// Sortition range endpoints are U256 positions in the 32-byte hash space.
type U256 = uint256.Int

// U256Zero returns the zero value.
func U256Zero() U256 {
	return U256{}
}

// U256Max returns 2^256 - 1, the top of the sortition hash space.
func U256Max() U256 {
	var v U256
	v.SetAllOne()
	return v
}

// U256FromUint64 converts a uint64 to a U256.
func U256FromUint64(n uint64) U256 {
	var v U256
	v.SetUint64(n)
	return v
}

// U256FromBytes interprets b as a big-endian unsigned integer.
// Inputs longer than 32 bytes are truncated to the low 256 bits.
func U256FromBytes(b []byte) U256 {
	var v U256
	v.SetBytes(b)
	return v
}
