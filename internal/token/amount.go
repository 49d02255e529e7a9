package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceDecimals is the fixed-point scale of ledger prices: base units per
// 10^PriceDecimals sale-token units.
const PriceDecimals = 18

// ParseAmount converts a human decimal amount ("17812.5") into base units.
func ParseAmount(input string, decimals uint8) (*big.Int, error) {
	return parseShifted(input, int32(decimals))
}

// ParsePrice converts a human price, in base tokens per whole sale token,
// into base units per 10^PriceDecimals sale-token units.
func ParsePrice(input string, baseDecimals, saleDecimals uint8) (*big.Int, error) {
	return parseShifted(input, int32(baseDecimals)+PriceDecimals-int32(saleDecimals))
}

func parseShifted(input string, shift int32) (*big.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(input)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", input, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", input)
	}
	scaled := d.Shift(shift)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q is finer than 10^%d units", input, -shift)
	}
	return scaled.BigInt(), nil
}

// FormatAmount renders base units as a human decimal string.
func FormatAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}
