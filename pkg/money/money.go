// Package money wraps shopspring/decimal with the two-decimal currency rules
// used across the auction engine. All amounts are a single currency; bids,
// customer prices, and margins never carry more than two decimal places.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse parses a currency amount string and rejects more than two decimal
// places or negative values.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Validate rejects negative amounts and amounts with sub-cent precision.
func Validate(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("money: amount %s is negative", d)
	}
	if d.Exponent() < -2 {
		return fmt.Errorf("money: amount %s has more than two decimal places", d)
	}
	return nil
}

// PercentOf returns pct% of amount, rounded to two decimal places.
// Used for the minimum-bid floor and the advisory bid ceiling.
func PercentOf(amount decimal.Decimal, pct int) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(2)
}

// Format renders an amount with exactly two decimal places, e.g. "80.00".
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
