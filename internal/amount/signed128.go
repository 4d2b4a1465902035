// Package amount implements the signed 128-bit delta arithmetic used
// throughout the resolver and the secondary store. Every balance change
// computed by the indexer flows through Signed128; there is no plain
// int64/uint64 delta anywhere in the hot path.
package amount

import (
	"math/big"

	"github.com/subfrost/alkanes-index/internal/consistency"
)

// maxMagnitude is 2^128 - 1, the largest value a Signed128's Magnitude may
// hold. Arithmetic that would push Magnitude past this panics rather than
// wrapping.
var maxMagnitude = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Signed128 is a signed 128-bit amount with a canonical zero
// (IsNegative=false, Magnitude=0). It is the only delta type the resolver
// and the module stores use.
type Signed128 struct {
	IsNegative bool
	Magnitude  *big.Int
}

// Zero returns the canonical zero value.
func Zero() Signed128 {
	return Signed128{IsNegative: false, Magnitude: big.NewInt(0)}
}

// FromUint64 builds a non-negative Signed128 from a uint64 magnitude.
func FromUint64(v uint64) Signed128 {
	return Signed128{IsNegative: false, Magnitude: new(big.Int).SetUint64(v)}
}

// FromBigInt builds a Signed128 from a magnitude and sign, normalizing a
// zero magnitude to the canonical non-negative zero.
func FromBigInt(isNegative bool, magnitude *big.Int) Signed128 {
	m := new(big.Int).Set(magnitude)
	if m.Sign() == 0 {
		isNegative = false
	}
	checkMagnitude(m)
	return Signed128{IsNegative: isNegative, Magnitude: m}
}

func checkMagnitude(m *big.Int) {
	if m.Sign() < 0 {
		consistency.Panicf("amount: negative magnitude %s", m.String())
	}
	if m.Cmp(maxMagnitude) > 0 {
		consistency.Panicf("amount: magnitude %s overflows u128", m.String())
	}
}

// IsZero reports whether the amount is the canonical zero.
func (s Signed128) IsZero() bool {
	return s.Magnitude == nil || s.Magnitude.Sign() == 0
}

// Clone returns a deep copy.
func (s Signed128) Clone() Signed128 {
	if s.Magnitude == nil {
		return Zero()
	}
	return Signed128{IsNegative: s.IsNegative, Magnitude: new(big.Int).Set(s.Magnitude)}
}

// signedValue returns the value as a signed big.Int (negative values
// represented with a minus sign), used internally for arithmetic.
func (s Signed128) signedValue() *big.Int {
	v := new(big.Int)
	if s.Magnitude != nil {
		v.Set(s.Magnitude)
	}
	if s.IsNegative {
		v.Neg(v)
	}
	return v
}

// fromSignedValue converts a signed big.Int back to canonical form,
// panicking if the resulting magnitude overflows u128.
func fromSignedValue(v *big.Int) Signed128 {
	neg := v.Sign() < 0
	mag := new(big.Int).Abs(v)
	checkMagnitude(mag)
	if mag.Sign() == 0 {
		neg = false
	}
	return Signed128{IsNegative: neg, Magnitude: mag}
}

// Add returns s + other, panicking if the result's magnitude overflows u128.
func (s Signed128) Add(other Signed128) Signed128 {
	return fromSignedValue(new(big.Int).Add(s.signedValue(), other.signedValue()))
}

// Sub returns s - other, panicking if the result's magnitude overflows u128.
func (s Signed128) Sub(other Signed128) Signed128 {
	return fromSignedValue(new(big.Int).Sub(s.signedValue(), other.signedValue()))
}

// Neg returns -s.
func (s Signed128) Neg() Signed128 {
	if s.IsZero() {
		return Zero()
	}
	return Signed128{IsNegative: !s.IsNegative, Magnitude: new(big.Int).Set(s.Magnitude)}
}

// Cmp compares s and other as signed values: -1, 0, or 1.
func (s Signed128) Cmp(other Signed128) int {
	return s.signedValue().Cmp(other.signedValue())
}

// String renders the amount with a leading '-' for negative values.
func (s Signed128) String() string {
	return s.signedValue().String()
}

// AddMagnitude adds a positive u128 magnitude as bytes (little-endian, the
// upstream wire form) to s, returning the result. Used when applying a
// trace's raw transferred amount, which is always a positive quantity
// carried with an explicit sender/receiver direction rather than a sign bit.
func AddMagnitude(s Signed128, deltaLE16 [16]byte, negative bool) Signed128 {
	mag := new(big.Int)
	// Upstream u128 values are little-endian; big.Int.SetBytes wants
	// big-endian, so reverse.
	var be [16]byte
	for i := 0; i < 16; i++ {
		be[i] = deltaLE16[15-i]
	}
	mag.SetBytes(be[:])
	delta := Signed128{IsNegative: negative, Magnitude: mag}
	return s.Add(delta)
}
