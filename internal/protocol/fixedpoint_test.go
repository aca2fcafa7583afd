package protocol_test

import (
	"math/big"
	"testing"

	"LendLedger/internal/protocol"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big.Int literal %q", s)
	}
	return v
}

// ============================================================================
// Test: FiatValue
// ============================================================================

func TestFiatValue_OneUnitAt300(t *testing.T) {
	collateral := mustBig(t, "1000000000000000000") // 1 unit
	rate := big.NewInt(30_000_000_000)              // $300.00

	got := protocol.FiatValue(collateral, rate)
	want := mustBig(t, "300000000000000000000") // $300, 18-dec
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestFiatValue_TruncatesTowardZero(t *testing.T) {
	collateral := big.NewInt(3) // 3 wei
	rate := big.NewInt(33_333_333)

	got := protocol.FiatValue(collateral, rate)
	if got.Cmp(big.NewInt(0)) != 0 {
		t.Errorf("sub-scale product should truncate to 0, got %s", got)
	}
}

// ============================================================================
// Test: HealthFactor
// ============================================================================

func TestHealthFactor_Borrow200At300(t *testing.T) {
	// 1 unit collateral at $300, borrow $200: HF = 300*80/(200*100) = 1.2
	fiat := mustBig(t, "300000000000000000000")
	borrowed := mustBig(t, "200000000000000000000")

	got := protocol.HealthFactor(fiat, borrowed)
	want := mustBig(t, "1200000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
	if !protocol.IsSafe(got) {
		t.Error("1.2e18 should be safe")
	}
}

func TestHealthFactor_RateDropTo200(t *testing.T) {
	// Same position at $200: HF = 200*80/(200*100) = 0.8
	fiat := mustBig(t, "200000000000000000000")
	borrowed := mustBig(t, "200000000000000000000")

	got := protocol.HealthFactor(fiat, borrowed)
	want := mustBig(t, "800000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
	if protocol.IsSafe(got) {
		t.Error("0.8e18 should be liquidatable")
	}
}

func TestHealthFactor_NoDebtSentinel(t *testing.T) {
	fiat := mustBig(t, "300000000000000000000")

	got := protocol.HealthFactor(fiat, big.NewInt(0))
	if got.Cmp(protocol.MaxHealthFactor) != 0 {
		t.Errorf("debt-free position should report the max sentinel, got %s", got)
	}
	if !protocol.IsSafe(got) {
		t.Error("sentinel should be safe")
	}
}

func TestHealthFactor_ExactBoundaryIsSafe(t *testing.T) {
	// fiat*80 == borrowed*100 exactly: HF == 1e18, not liquidatable.
	fiat := mustBig(t, "250000000000000000000")
	borrowed := mustBig(t, "200000000000000000000")

	got := protocol.HealthFactor(fiat, borrowed)
	if got.Cmp(protocol.Precision) != 0 {
		t.Errorf("got %s, want exactly 1e18", got)
	}
	if !protocol.IsSafe(got) {
		t.Error("HF == 1e18 should count as safe")
	}
}

// ============================================================================
// Test: MaxBorrow
// ============================================================================

func TestMaxBorrow_75PercentOf300(t *testing.T) {
	fiat := mustBig(t, "300000000000000000000")

	got := protocol.MaxBorrow(fiat)
	want := mustBig(t, "225000000000000000000") // $225
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

// ============================================================================
// Test: LiquidationPrice
// ============================================================================

func TestLiquidationPrice_Borrow200OneUnit(t *testing.T) {
	// HF hits 1.0 when rate = 200*100/(1*80) = $250.
	collateral := mustBig(t, "1000000000000000000")
	borrowed := mustBig(t, "200000000000000000000")

	got := protocol.LiquidationPrice(collateral, borrowed)
	want := big.NewInt(25_000_000_000)
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestLiquidationPrice_UndefinedCases(t *testing.T) {
	one := mustBig(t, "1000000000000000000")
	if protocol.LiquidationPrice(big.NewInt(0), one) != nil {
		t.Error("no collateral: boundary price should be nil")
	}
	if protocol.LiquidationPrice(one, big.NewInt(0)) != nil {
		t.Error("no debt: boundary price should be nil")
	}
}

// ============================================================================
// Test: Seizure
// ============================================================================

func TestSeizure_DebtPlusBonusUnderCollateral(t *testing.T) {
	// $200 debt at $250: base = 0.8 units, bonus = 0.04, total 0.84 < 1.
	debt := mustBig(t, "200000000000000000000")
	rate := big.NewInt(25_000_000_000)
	collateral := mustBig(t, "1000000000000000000")

	seized, bonus := protocol.Seizure(debt, rate, collateral)
	wantSeized := mustBig(t, "840000000000000000")
	wantBonus := mustBig(t, "40000000000000000")
	if seized.Cmp(wantSeized) != 0 {
		t.Errorf("seized: got %s, want %s", seized, wantSeized)
	}
	if bonus.Cmp(wantBonus) != 0 {
		t.Errorf("bonus: got %s, want %s", bonus, wantBonus)
	}
}

func TestSeizure_CappedAtCollateral(t *testing.T) {
	// $200 debt at $200: base = 1 unit = entire collateral, bonus squeezed out.
	debt := mustBig(t, "200000000000000000000")
	rate := big.NewInt(20_000_000_000)
	collateral := mustBig(t, "1000000000000000000")

	seized, bonus := protocol.Seizure(debt, rate, collateral)
	if seized.Cmp(collateral) != 0 {
		t.Errorf("seized should cap at collateral, got %s", seized)
	}
	if bonus.Sign() != 0 {
		t.Errorf("bonus should collapse to 0 under the cap, got %s", bonus)
	}
}

func TestSeizure_CapShrinksBonusFirst(t *testing.T) {
	// base = 0.98, bonus would be 0.049, cap at 1.0 leaves bonus 0.02.
	debt := mustBig(t, "196000000000000000000")
	rate := big.NewInt(20_000_000_000)
	collateral := mustBig(t, "1000000000000000000")

	seized, bonus := protocol.Seizure(debt, rate, collateral)
	if seized.Cmp(collateral) != 0 {
		t.Errorf("seized should cap at collateral, got %s", seized)
	}
	wantBonus := mustBig(t, "20000000000000000")
	if bonus.Cmp(wantBonus) != 0 {
		t.Errorf("bonus: got %s, want %s", bonus, wantBonus)
	}
}

// ============================================================================
// Test: Currency
// ============================================================================

func TestParseCurrency(t *testing.T) {
	c, err := protocol.ParseCurrency("INR")
	if err != nil {
		t.Fatalf("ParseCurrency(INR): %v", err)
	}
	if c != protocol.INR {
		t.Errorf("got %v, want INR", c)
	}

	if _, err := protocol.ParseCurrency("EUR"); err == nil {
		t.Error("EUR should not parse")
	}
}

func TestCurrency_Valid(t *testing.T) {
	if !protocol.USD.Valid() || !protocol.INR.Valid() {
		t.Error("USD and INR should be valid")
	}
	if protocol.Currency(7).Valid() {
		t.Error("tag 7 should be out of range")
	}
}
