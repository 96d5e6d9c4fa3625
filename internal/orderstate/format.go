package orderstate

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders a base-unit amount with the token's decimals and no
// trailing zeros, e.g. 1030928 with 6 decimals is "1.030928".
func FormatAmount(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseAmount converts a human-entered amount such as "1.5" into base units.
// Amounts with more fractional digits than the token supports are rejected.
func ParseAmount(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("orderstate: parse amount %q: %w", s, err)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("orderstate: amount %q has more than %d decimals", s, decimals)
	}
	return shifted.BigInt(), nil
}

// InsufficientBalance reports whether balance (base units) is below the
// human-entered amount. Empty, zero or unparsable input, and tokens without
// decimals, never count as insufficient.
func InsufficientBalance(balance *big.Int, amount string, decimals int32) bool {
	amount = strings.TrimSpace(amount)
	if amount == "" || amount == "." || decimals == 0 {
		return false
	}
	d, err := decimal.NewFromString(amount)
	if err != nil || d.IsZero() {
		return false
	}
	if balance == nil {
		balance = new(big.Int)
	}
	return decimal.NewFromBigInt(balance, 0).LessThan(d.Shift(decimals))
}
