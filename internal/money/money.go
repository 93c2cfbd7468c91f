// Package money holds the rounding and percentage helpers shared by every
// component that computes an amount.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Scale is the number of fractional digits kept on reported amounts.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to two decimals.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent returns base × pct / 100, unrounded.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// PercentInclusive extracts the tax portion already contained in base:
// base × rate / (100 + rate). Zero rate yields zero.
func PercentInclusive(base, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return base.Mul(rate).Div(hundred.Add(rate))
}

// ClampNonNegative returns zero for negative values.
func ClampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// NonNil dereferences d, treating nil as zero.
func NonNil(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// Sum adds all values; an empty list sums to zero.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Ptr returns a pointer to a copy of d.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// IsPercent reports whether d lies within [0, 100].
func IsPercent(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}

// ParseCurrency validates an ISO 4217 code and returns it upper-cased.
func ParseCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("money: currency required")
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("money: invalid currency %q: %w", code, err)
	}
	return unit.String(), nil
}
