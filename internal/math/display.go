package math

import (
	"fmt"

	"TimeMarket/internal/errs"

	"github.com/shopspring/decimal"
)

// FormatAmount renders minor units as a decimal string with the given number
// of decimals. Display only; settlement never goes through decimals.
func FormatAmount(amount int64, decimals int32) string {
	return decimal.New(amount, -decimals).StringFixed(decimals)
}

// ParseAmount converts a decimal string into minor units. It rejects negative
// values, precision beyond decimals and results outside int64.
func ParseAmount(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	units := d.Shift(decimals)
	if units.IsNegative() || !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %q with %d decimals: %w", s, decimals, errs.ErrInvalidAmount)
	}
	if !units.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q: %w", s, errs.ErrOverflow)
	}
	return units.IntPart(), nil
}
