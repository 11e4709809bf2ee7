package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of fraction digits amounts and ratios are shown with.
const Precision = 4

// ToFixed renders a/b with Precision fraction digits, rounding half up.
// Either operand being zero renders "0".
func ToFixed(a, b *big.Int) string {
	if a == nil || b == nil || a.Sign() == 0 || b.Sign() == 0 {
		return "0"
	}
	return decimal.NewFromBigInt(a, 0).DivRound(decimal.NewFromBigInt(b, 0), 24).StringFixed(Precision)
}

// FormatUnits renders a base-unit amount with Precision fraction digits.
func FormatUnits(amount *big.Int, decimals uint8) string {
	return ToFixed(amount, pow10(decimals))
}

// FormatUnitsTrim converts a token balance to a human string:
// - divides by 10^decimals
// - trims to maxFrac decimal places
// - removes trailing zeros
//
// Examples:
//
//	balance=1234500000000000000, decimals=18 -> "1.2345"
//	balance=1000000000000000000, decimals=18 -> "1"
//	balance=1, decimals=18 -> "0.000000000000000001"
func FormatUnitsTrim(amount *big.Int, decimals uint8, maxFrac int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}
	d := decimal.NewFromBigInt(amount, -int32(decimals))
	if maxFrac < 0 {
		maxFrac = 0
	}
	return d.Truncate(int32(maxFrac)).String()
}

// ParseUnits converts a user-entered decimal amount to base units. More
// fraction digits than decimals is an error, like ethers' parseUnits.
func ParseUnits(raw string, decimals uint8) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(big.Int), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("utils: invalid amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("utils: negative amount %q", raw)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("utils: %q has more than %d decimals", raw, decimals)
	}
	return scaled.BigInt(), nil
}

// ToDecimal converts base units to a decimal value.
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Pow10 returns 10^decimals.
func Pow10(decimals uint8) *big.Int {
	return pow10(decimals)
}
