package moneyx

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Round2 is the single rounding policy for materialized amounts:
// half-even (banker's) to 2 decimal places. It is applied exactly once,
// when a result row is produced; sums of rounded rows are never
// re-rounded.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// ParseAmount parses a decimal amount from user-supplied text.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount invalid: %s", raw)
	}
	return d, nil
}

// Equal reports decimal-exact equality, ignoring exponent representation.
func Equal(a, b decimal.Decimal) bool {
	return a.Cmp(b) == 0
}
