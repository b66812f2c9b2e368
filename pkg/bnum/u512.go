package bnum

import (
	"fmt"
	"math/big"
)

// u512Bits is the capacity of a U512 in bits.
const u512Bits = 512

// U512 is an unsigned 512-bit integer: eight 64-bit limbs of capacity.
// It exists for the sortition fixed-point scaling, where the product
// U256Max * burn exceeds 256 bits before the division by the total burn
// brings it back into range. It can be used as a value without state
// sharing.
type U512 struct {
	value *big.Int
}

// U512FromUint64 converts a uint64 to a U512.
func U512FromUint64(n uint64) U512 {
	return U512{value: new(big.Int).SetUint64(n)}
}

// U512FromU256 widens a U256 to a U512.
func U512FromU256(v U256) U512 {
	return U512{value: v.ToBig()}
}

// big returns the underlying value, treating nil as zero.
func (u U512) big() *big.Int {
	if u.value == nil {
		return new(big.Int)
	}
	return u.value
}

// IsZero returns true if the value is zero.
func (u U512) IsZero() bool {
	return u.value == nil || u.value.Sign() == 0
}

// Cmp compares with another U512. Returns -1, 0 or +1.
func (u U512) Cmp(other U512) int {
	return u.big().Cmp(other.big())
}

// Add returns u + other. It panics if the sum exceeds 512 bits; the
// sortition arithmetic never produces such a sum for in-range burns.
func (u U512) Add(other U512) U512 {
	sum := new(big.Int).Add(u.big(), other.big())
	if sum.BitLen() > u512Bits {
		panic("bnum: U512 addition overflow")
	}
	return U512{value: sum}
}

// Mul returns u * other. It panics if the product exceeds 512 bits.
// The invariant U512(U256Max) * U512(burn) / U512(total) holds whenever
// burn <= total <= 2^64, so in-range sortition inputs never trip this.
func (u U512) Mul(other U512) U512 {
	product := new(big.Int).Mul(u.big(), other.big())
	if product.BitLen() > u512Bits {
		panic("bnum: U512 multiplication overflow")
	}
	return U512{value: product}
}

// Div returns u / other, truncating. It panics on division by zero.
func (u U512) Div(other U512) U512 {
	if other.IsZero() {
		panic("bnum: U512 division by zero")
	}
	return U512{value: new(big.Int).Div(u.big(), other.big())}
}

// ToU256 narrows to a U256. Returns an error if the value needs more
// than 256 bits.
func (u U512) ToU256() (U256, error) {
	var out U256
	if overflow := out.SetFromBig(u.big()); overflow {
		return U256{}, fmt.Errorf("bnum: value exceeds 256 bits")
	}
	return out, nil
}

// String returns the decimal representation.
func (u U512) String() string {
	return u.big().String()
}
