package evm

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	coreerrors "afrochain/core/errors"
)

const weiDecimals = 18

// ToWei converts a whole-ether amount into wei, rejecting fractions below one
// wei and values that do not fit the 256-bit word.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, coreerrors.Validation("amount must be positive")
	}
	shifted := amount.Shift(weiDecimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, coreerrors.Validation("amount %s has more than %d decimals", amount, weiDecimals)
	}
	wei := shifted.BigInt()
	if _, overflow := uint256.FromBig(wei); overflow {
		return nil, coreerrors.Validation("amount %s overflows uint256", amount)
	}
	return wei, nil
}

// FromWei converts wei into whole ether.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}
