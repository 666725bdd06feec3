package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a positive decimal amount expressed in whole native units
// (ETH, HBAR).
func ParseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	amt, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if !amt.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}
	return amt, nil
}
