package aggregate

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const priceScale = 18

// averagePrice returns base tokens paid per whole sale token, or nil when
// nothing was sold.
func averagePrice(baseRaised *big.Int, baseDecimals uint8, saleSold *big.Int, saleDecimals uint8) *string {
	if saleSold == nil || saleSold.Sign() == 0 || baseRaised == nil {
		return nil
	}
	base := decimal.NewFromBigInt(baseRaised, -int32(baseDecimals))
	sale := decimal.NewFromBigInt(saleSold, -int32(saleDecimals))
	price := base.DivRound(sale, priceScale).String()
	return &price
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}
