package loans

import (
	"math/big"

	"github.com/quantumauth-io/collateral-client/internal/collateral-client/utils"
)

var hundred = big.NewInt(100)

// ShortCRatio is collateral*collateralPrice*100 / (debt*debtPrice), an
// integer percentage. Prices are 1e18-scaled rates; the scale cancels out.
// A zero denominator yields zero.
func ShortCRatio(collateral, collateralPrice, debt, debtPrice *big.Int) *big.Int {
	if anyZero(collateral, collateralPrice, debt, debtPrice) {
		return new(big.Int)
	}
	num := new(big.Int).Mul(collateral, collateralPrice)
	num.Mul(num, hundred)
	den := new(big.Int).Mul(debt, debtPrice)
	return num.Quo(num, den)
}

// FormatShortCRatio renders a ShortCRatio result.
func FormatShortCRatio(cratio *big.Int) string {
	return utils.ToFixed(cratio, big.NewInt(1))
}

// NormalizeMinCollateral scales the loan contract's 18-decimal minimum to the
// collateral token's decimals. Shorts use sUSD collateral and are left as is.
func NormalizeMinCollateral(min *big.Int, decimals uint8, short bool) *big.Int {
	if min == nil {
		return new(big.Int)
	}
	if short || decimals >= 18 {
		return new(big.Int).Set(min)
	}
	divisor := utils.Pow10(18 - decimals)
	return new(big.Int).Quo(min, divisor)
}

func anyZero(vs ...*big.Int) bool {
	for _, v := range vs {
		if v == nil || v.Sign() == 0 {
			return true
		}
	}
	return false
}
