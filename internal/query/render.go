package query

import (
	"math/big"

	"github.com/shopspring/decimal"

	"LendLedger/internal/protocol"
)

// renderAmount formats an 18-decimal fixed-point value as a decimal string.
func renderAmount(v *big.Int) string {
	return decimal.NewFromBigInt(v, -protocol.AmountDecimals).String()
}

// renderRate formats an 8-decimal oracle rate as a decimal string.
func renderRate(v *big.Int) string {
	return decimal.NewFromBigInt(v, -protocol.PriceDecimals).String()
}

// riskView holds the derived figures for a position at a given rate.
type riskView struct {
	fiatValue    *string
	healthFactor *string
	liqPrice     *string
	safe         bool
	maxBorrow    *big.Int
}

// deriveRisk computes the fiat value, health factor and liquidation price
// for a position. rate may be nil when no oracle price has been projected
// yet, in which case only the raw balances are reportable; a debt-free
// position is safe with no health factor.
func deriveRisk(collateral, borrowed, rate *big.Int) riskView {
	view := riskView{safe: borrowed.Sign() == 0}
	if rate == nil {
		return view
	}

	fiat := protocol.FiatValue(collateral, rate)
	fiatStr := renderAmount(fiat)
	view.fiatValue = &fiatStr
	view.maxBorrow = protocol.MaxBorrow(fiat)

	if borrowed.Sign() == 0 {
		return view
	}

	hf := protocol.HealthFactor(fiat, borrowed)
	hfStr := renderAmount(hf)
	view.healthFactor = &hfStr
	view.safe = protocol.IsSafe(hf)

	if lp := protocol.LiquidationPrice(collateral, borrowed); lp != nil {
		lpStr := renderRate(lp)
		view.liqPrice = &lpStr
	}
	return view
}
