package aggregate

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const progressScale = 2

var fullProgress = big.NewInt(100 * 100)

// Progress returns raised as a percentage of maxCap, truncated to two
// decimals and clamped to [0, 100]. A zero max cap yields 0.
func Progress(raised, maxCap *big.Int) decimal.Decimal {
	if raised == nil || maxCap == nil || raised.Sign() <= 0 || maxCap.Sign() <= 0 {
		return decimal.Zero
	}
	scaled := new(big.Int).Mul(raised, fullProgress)
	scaled.Quo(scaled, maxCap)
	if scaled.Cmp(fullProgress) > 0 {
		scaled.Set(fullProgress)
	}
	return decimal.NewFromBigInt(scaled, -progressScale)
}
