package watcher

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), protocol.Precision)
}

func rate(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), protocol.PriceScale)
}

func TestEvaluate_SafePositionIsNil(t *testing.T) {
	// 1 unit at $300, 200 borrowed: HF = 1.2.
	if got := evaluate(units(1), units(200), rate(300), protocol.Precision); got != nil {
		t.Errorf("evaluate = %s, want nil for a safe position", got)
	}
}

func TestEvaluate_UnsafeReturnsHealthFactor(t *testing.T) {
	// Rate crash to $200: HF = 0.8.
	got := evaluate(units(1), units(200), rate(200), protocol.Precision)
	if got == nil {
		t.Fatal("expected a candidate below threshold")
	}
	want := new(big.Int).Mul(big.NewInt(8), new(big.Int).Quo(protocol.Precision, big.NewInt(10)))
	if got.Cmp(want) != 0 {
		t.Errorf("health factor = %s, want %s", got, want)
	}
}

func TestEvaluate_ExactThresholdIsSafe(t *testing.T) {
	// HF exactly 1.0 must not trigger: $300 value, 240 borrowed.
	if got := evaluate(units(1), units(240), rate(300), protocol.Precision); got != nil {
		t.Errorf("evaluate = %s, want nil at the exact boundary", got)
	}
}

func TestEvaluate_DebtFreeIsNil(t *testing.T) {
	if got := evaluate(units(5), big.NewInt(0), rate(300), protocol.Precision); got != nil {
		t.Errorf("evaluate = %s, want nil for a debt-free position", got)
	}
}

func TestBuildLiquidateOp_TimeInUnixSeconds(t *testing.T) {
	liquidator := uuid.New()
	borrower := uuid.New()
	now := time.Unix(1700000000, 999_999_999)

	liq := buildLiquidateOp(liquidator, borrower, 4, now)
	if liq.Time != 1700000000 {
		t.Errorf("op time = %d, want unix seconds 1700000000", liq.Time)
	}
	if liq.LiquidatorID != liquidator || liq.AccountID != borrower || liq.Sequence != 4 {
		t.Errorf("unexpected op %+v", liq)
	}
}

func TestEvaluate_RaisedThresholdCatchesMore(t *testing.T) {
	// Operator threshold of 1.5 flags the HF=1.2 position.
	threshold := new(big.Int).Mul(big.NewInt(15), new(big.Int).Quo(protocol.Precision, big.NewInt(10)))
	if got := evaluate(units(1), units(200), rate(300), threshold); got == nil {
		t.Error("expected candidate below raised threshold")
	}
}
