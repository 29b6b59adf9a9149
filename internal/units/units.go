// Package units converts between human decimal amounts and integer base units.
package units

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"curvePool/internal/pricing"
)

var (
	ErrNegative  = errors.New("units: negative amount")
	ErrPrecision = errors.New("units: more fractional digits than the asset supports")
	ErrTooLarge  = errors.New("units: amount exceeds 256 bits")
)

// Parse converts a decimal string such as "1000.5" into base units.
func Parse(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d, decimals)
}

// FromDecimal converts a decimal amount into base units.
func FromDecimal(d decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %s: %w", d, ErrNegative)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s with %d decimals: %w", d, decimals, ErrPrecision)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %s: %w", d, ErrTooLarge)
	}
	return out, nil
}

// ToDecimal converts base units into a decimal amount.
func ToDecimal(v *uint256.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals))
}

// Format renders base units as a decimal string.
func Format(v *uint256.Int, decimals uint8) string {
	return ToDecimal(v, decimals).String()
}

// FormatPrice renders a 1e18-scaled spot price with the given number of places.
func FormatPrice(price *uint256.Int, places int32) string {
	return ToDecimal(price, pricing.PriceDecimals).StringFixed(places)
}

// Float converts a base-unit decimal string into a float in whole units. Unparseable
// input yields zero.
func Float(baseUnits string, decimals uint8) float64 {
	d, err := decimal.NewFromString(baseUnits)
	if err != nil {
		return 0
	}
	return d.Shift(-int32(decimals)).InexactFloat64()
}
