package protocol

import (
	"math/big"
	"sync"
)

// Fixed-point conventions. Collateral and debt amounts carry 18 implied
// decimals; oracle rates carry 8. Health factors are scaled by Precision.
const (
	AmountDecimals = 18
	PriceDecimals  = 8

	LiquidationThresholdPercent = 80
	MaxLTVPercent               = 75
	LiquidationBonusPercent     = 5
)

var (
	// Precision is the 1e18 health-factor scale.
	Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(AmountDecimals), nil)

	// PriceScale is the 1e8 oracle rate scale.
	PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil)

	// MaxHealthFactor is the 2^256-1 sentinel reported for debt-free
	// positions. Sorts above every computable health factor.
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	liqThreshold = big.NewInt(LiquidationThresholdPercent)
	maxLTV       = big.NewInt(MaxLTVPercent)
	liqBonus     = big.NewInt(LiquidationBonusPercent)
	hundred      = big.NewInt(100)
)

// Intermediate products of an 18-decimal amount and an 8-decimal rate exceed
// int64, so all arithmetic stays in big.Int. The pool covers scratch values.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// FiatValue converts a collateral amount to 18-decimal fiat units at an
// 8-decimal rate: collateral * rate / 1e8, truncated.
func FiatValue(collateral, rate *big.Int) *big.Int {
	out := new(big.Int).Mul(collateral, rate)
	return out.Quo(out, PriceScale)
}

// HealthFactor computes the Precision-scaled safety ratio
// collateralFiat * 80 * 1e18 / (borrowed * 100). A position with no debt
// reports MaxHealthFactor.
func HealthFactor(collateralFiat, borrowed *big.Int) *big.Int {
	if borrowed.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	num := new(big.Int).Mul(collateralFiat, liqThreshold)
	num.Mul(num, Precision)
	den := getBig().Mul(borrowed, hundred)
	num.Quo(num, den)
	putBig(den)
	return num
}

// IsSafe reports whether a health factor is at or above the 1e18 boundary.
func IsSafe(healthFactor *big.Int) bool {
	return healthFactor.Cmp(Precision) >= 0
}

// MaxBorrow returns the 75%-LTV borrow ceiling for a fiat collateral value.
func MaxBorrow(collateralFiat *big.Int) *big.Int {
	out := new(big.Int).Mul(collateralFiat, maxLTV)
	return out.Quo(out, hundred)
}

// LiquidationPrice returns the 8-decimal rate at which the health factor
// crosses 1.0: borrowed * 100 * 1e8 / (collateral * 80). Nil when the
// position holds no collateral or no debt.
func LiquidationPrice(collateral, borrowed *big.Int) *big.Int {
	if collateral.Sign() == 0 || borrowed.Sign() == 0 {
		return nil
	}
	num := new(big.Int).Mul(borrowed, hundred)
	num.Mul(num, PriceScale)
	den := getBig().Mul(collateral, liqThreshold)
	num.Quo(num, den)
	putBig(den)
	return num
}

// Seizure computes the collateral taken when debt is liquidated at rate:
// the debt converted to collateral units plus a 5% bonus, capped at the
// position's actual collateral. Returns the total seized and the bonus
// portion of it; under the cap the bonus shrinks first.
func Seizure(debt, rate, collateral *big.Int) (seized, bonus *big.Int) {
	base := new(big.Int).Mul(debt, PriceScale)
	base.Quo(base, rate)

	bonus = new(big.Int).Mul(base, liqBonus)
	bonus.Quo(bonus, hundred)

	seized = new(big.Int).Add(base, bonus)
	if seized.Cmp(collateral) > 0 {
		seized.Set(collateral)
		if base.Cmp(seized) >= 0 {
			bonus.SetInt64(0)
		} else {
			bonus.Sub(seized, base)
		}
	}
	return seized, bonus
}
