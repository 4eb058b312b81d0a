package math

import (
	"errors"
	"math/big"
	"sync"
)

// FractionBits is the number of fractional bits in a Ratio (32.32 binary
// fixed point). One unit of raw value equals 2^-32.
const FractionBits = 32

var scale = new(big.Int).Lsh(big.NewInt(1), FractionBits)

var (
	ErrZeroDenominator = errors.New("ratio denominator is zero")
	ErrRatioOverflow   = errors.New("ratio arithmetic overflow")
)

// Ratio is a non-negative rational stored as 32.32 binary fixed point.
// A Ratio built from a/b with a <= b never exceeds 1.0; compounding
// (profit) ratios may. All multiplications round down — floor is the only
// rounding mode, so the pool side absorbs every sub-unit remainder.
type Ratio struct {
	raw uint64
}

// Int128 intermediates are pooled big.Ints
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// NewRatio constructs the exact fixed-point representation of
// numerator/denominator, rounded down to 2^-32 precision.
func NewRatio(numerator, denominator uint64) (Ratio, error) {
	if denominator == 0 {
		return Ratio{}, ErrZeroDenominator
	}

	// raw = floor(numerator * 2^32 / denominator), computed at 128-bit
	// width so a numerator up to 2^64-1 cannot overflow.
	num := getInt128()
	num.SetUint64(numerator)
	num.Mul(num, scale)

	den := getInt128()
	den.SetUint64(denominator)

	num.Quo(num, den)
	if !num.IsUint64() {
		putInt128(num)
		putInt128(den)
		return Ratio{}, ErrRatioOverflow
	}

	raw := num.Uint64()
	putInt128(num)
	putInt128(den)

	return Ratio{raw: raw}, nil
}

// RatioFromRaw wraps a raw 32.32 value. Used by config loading and tests.
func RatioFromRaw(raw uint64) Ratio {
	return Ratio{raw: raw}
}

// Raw returns the underlying 32.32 bits.
func (r Ratio) Raw() uint64 {
	return r.raw
}

// IsZero reports whether the ratio is exactly zero.
func (r Ratio) IsZero() bool {
	return r.raw == 0
}

// Add returns r + other, failing on 64-bit overflow of the raw value.
func (r Ratio) Add(other Ratio) (Ratio, error) {
	sum := r.raw + other.raw
	if sum < r.raw {
		return Ratio{}, ErrRatioOverflow
	}
	return Ratio{raw: sum}, nil
}

// Sub returns r - other, failing if the result would be negative.
func (r Ratio) Sub(other Ratio) (Ratio, error) {
	if other.raw > r.raw {
		return Ratio{}, ErrRatioOverflow
	}
	return Ratio{raw: r.raw - other.raw}, nil
}

// IntMul computes floor(amount * r) without intermediate overflow.
// For a ratio built from a/b with a <= b the result never exceeds amount.
func IntMul(amount uint64, r Ratio) uint64 {
	if amount == 0 || r.raw == 0 {
		return 0
	}

	product := getInt128()
	product.SetUint64(amount)

	factor := getInt128()
	factor.SetUint64(r.raw)

	product.Mul(product, factor)
	product.Rsh(product, FractionBits)

	// Saturate rather than wrap if a compounding ratio pushed the result
	// past 2^64-1. Callers treat amounts as bounded by total asset supply,
	// so this is unreachable in practice.
	var result uint64
	if product.IsUint64() {
		result = product.Uint64()
	} else {
		result = ^uint64(0)
	}

	putInt128(product)
	putInt128(factor)

	return result
}
