package query

import (
	"math/big"
	"testing"
)

func bigFrom(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big literal %q", s)
	}
	return v
}

// ============================================================
// Rendering
// ============================================================

func TestRenderAmount(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"200000000000000000000", "200"},
		{"1", "0.000000000000000001"},
	}
	for _, tc := range cases {
		if got := renderAmount(bigFrom(t, tc.raw)); got != tc.want {
			t.Errorf("renderAmount(%s) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestRenderRate(t *testing.T) {
	if got := renderRate(bigFrom(t, "30000000000")); got != "300" {
		t.Errorf("got %q, want %q", got, "300")
	}
	if got := renderRate(bigFrom(t, "25012345678")); got != "250.12345678" {
		t.Errorf("got %q, want %q", got, "250.12345678")
	}
}

// ============================================================
// Derived risk
// ============================================================

func TestDeriveRisk_SafePosition(t *testing.T) {
	// 1 unit of collateral at $300, 200 borrowed: HF = 1.2.
	collateral := bigFrom(t, "1000000000000000000")
	borrowed := bigFrom(t, "200000000000000000000")
	rate := bigFrom(t, "30000000000")

	view := deriveRisk(collateral, borrowed, rate)
	if !view.safe {
		t.Error("expected position to be safe")
	}
	if view.fiatValue == nil || *view.fiatValue != "300" {
		t.Errorf("fiat value = %v, want 300", view.fiatValue)
	}
	if view.healthFactor == nil || *view.healthFactor != "1.2" {
		t.Errorf("health factor = %v, want 1.2", view.healthFactor)
	}
	if view.liqPrice == nil || *view.liqPrice != "250" {
		t.Errorf("liquidation price = %v, want 250", view.liqPrice)
	}
	if got, want := view.maxBorrow.String(), "225000000000000000000"; got != want {
		t.Errorf("max borrow = %s, want %s", got, want)
	}
}

func TestDeriveRisk_UnsafeAfterRateDrop(t *testing.T) {
	collateral := bigFrom(t, "1000000000000000000")
	borrowed := bigFrom(t, "200000000000000000000")
	rate := bigFrom(t, "20000000000") // $200

	view := deriveRisk(collateral, borrowed, rate)
	if view.safe {
		t.Error("expected position to be unsafe at $200")
	}
	if view.healthFactor == nil || *view.healthFactor != "0.8" {
		t.Errorf("health factor = %v, want 0.8", view.healthFactor)
	}
}

func TestDeriveRisk_DebtFreeHasNoHealthFactor(t *testing.T) {
	collateral := bigFrom(t, "1000000000000000000")
	rate := bigFrom(t, "30000000000")

	view := deriveRisk(collateral, big.NewInt(0), rate)
	if !view.safe {
		t.Error("debt-free position must be safe")
	}
	if view.healthFactor != nil {
		t.Errorf("health factor = %q, want absent", *view.healthFactor)
	}
	if view.liqPrice != nil {
		t.Errorf("liquidation price = %q, want absent", *view.liqPrice)
	}
	if view.fiatValue == nil || *view.fiatValue != "300" {
		t.Errorf("fiat value = %v, want 300", view.fiatValue)
	}
}

func TestDeriveRisk_NoRateReportsBalancesOnly(t *testing.T) {
	collateral := bigFrom(t, "1000000000000000000")
	borrowed := bigFrom(t, "200000000000000000000")

	view := deriveRisk(collateral, borrowed, nil)
	if view.safe {
		t.Error("indebted position without a rate must not report safe")
	}
	if view.fiatValue != nil || view.healthFactor != nil || view.liqPrice != nil {
		t.Error("expected no derived figures without a rate")
	}
}

func TestDeriveRisk_ExactBoundaryIsSafe(t *testing.T) {
	// HF exactly 1.0: $300 collateral value, 240 borrowed.
	collateral := bigFrom(t, "1000000000000000000")
	borrowed := bigFrom(t, "240000000000000000000")
	rate := bigFrom(t, "30000000000")

	view := deriveRisk(collateral, borrowed, rate)
	if !view.safe {
		t.Error("health factor of exactly 1.0 must count as safe")
	}
	if view.healthFactor == nil || *view.healthFactor != "1" {
		t.Errorf("health factor = %v, want 1", view.healthFactor)
	}
}
