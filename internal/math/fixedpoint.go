package math

import (
	"math/big"
	"sync"

	"TimeMarket/internal/errs"
)

const (
	BpsDenominator  int64 = 10_000
	T0BpsStable     int64 = 5_000
	T0BpsAuction    int64 = 4_000
	FinalReleaseBps int64 = 9_800
)

// Products are formed in pooled big.Ints so amount * bps never wraps.
var widePool = &sync.Pool{
	New: func() any {
		return new(big.Int)
	},
}

// mulDivFloor returns floor(a * b / d) for non-negative operands. ok is false
// when the quotient does not fit in an int64.
func mulDivFloor(a, b, d int64) (int64, bool) {
	product := widePool.Get().(*big.Int)
	defer widePool.Put(product)

	product.Mul(big.NewInt(a), big.NewInt(b))
	product.Quo(product, big.NewInt(d))
	if !product.IsInt64() {
		return 0, false
	}
	return product.Int64(), true
}

// MulBps returns floor(amount * bps / 10000) computed in a wide integer.
func MulBps(amount, bps int64) (int64, error) {
	if amount < 0 || bps < 0 {
		return 0, errs.ErrOverflow
	}
	result, ok := mulDivFloor(amount, bps, BpsDenominator)
	if !ok {
		return 0, errs.ErrOverflow
	}
	return result, nil
}

// ValidateBps rejects basis points outside [0, 10000].
func ValidateBps(bps int64) error {
	if bps < 0 || bps > BpsDenominator {
		return errs.ErrInvalidBps
	}
	return nil
}

// CheckedAdd returns a + b for non-negative amounts.
func CheckedAdd(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, errs.ErrOverflow
	}
	sum := a + b
	if sum < a {
		return 0, errs.ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b, failing when the result would go negative.
func CheckedSub(a, b int64) (int64, error) {
	if b < 0 || a < b {
		return 0, errs.ErrOverflow
	}
	return a - b, nil
}

func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
