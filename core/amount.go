package core

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Amount is the arbitrary-precision non-negative integer type used for bet
// amounts, vault balances, and jackpot contributions. The chain itself deals
// in integer denom units, so sdkmath.Int (not a decimal type) is the right
// fit here.
type Amount = sdkmath.Int

// ZeroAmount returns the additive identity.
func ZeroAmount() Amount {
	return sdkmath.ZeroInt()
}

// NewAmount builds an Amount from an int64, mainly for tests and config
// defaults (tier targets, bps thresholds expressed as whole numbers).
func NewAmount(n int64) Amount {
	return sdkmath.NewInt(n)
}

// ParseAmount parses a base-10 integer denom amount, e.g. from configuration
// or a chain event attribute.
func ParseAmount(s string) (Amount, error) {
	n, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}
