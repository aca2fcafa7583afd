package ingestion_test

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"LendLedger/internal/ingestion"
	"LendLedger/internal/op"
	"LendLedger/internal/protocol"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawOp {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawOp{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":      "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "660e8400-e29b-41d4-a716-446655440001",
		"amount":     "5000000000000000000",
		"sequence":   int64(1),
		"timestamp":  int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawOp(raw, "Deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := parsed.(*op.Deposit)
	if !ok {
		t.Fatalf("expected *op.Deposit, got %T", parsed)
	}

	want, _ := new(big.Int).SetString("5000000000000000000", 10)
	if d.Amount.Cmp(want) != 0 {
		t.Errorf("amount: got %s, want %s", d.Amount, want)
	}
	if d.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", d.Sequence)
	}
	if d.Time != 1700000000 {
		t.Errorf("timestamp: got %d, want 1700000000", d.Time)
	}
	if d.OpType() != op.OpTypeDeposit {
		t.Errorf("op type: got %v, want Deposit", d.OpType())
	}
}

func TestParseBorrow_WithExplicitCurrency(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":      "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "660e8400-e29b-41d4-a716-446655440001",
		"amount":     "200000000000000000000",
		"currency":   "INR",
		"sequence":   int64(3),
		"timestamp":  int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawOp(raw, "Borrow")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	b, ok := parsed.(*op.Borrow)
	if !ok {
		t.Fatalf("expected *op.Borrow, got %T", parsed)
	}
	if b.Currency == nil || *b.Currency != protocol.INR {
		t.Errorf("currency: got %v, want INR", b.Currency)
	}
}

func TestParseBorrow_OmittedCurrencyIsNil(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":      "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "660e8400-e29b-41d4-a716-446655440001",
		"amount":     "1",
		"sequence":   int64(0),
		"timestamp":  int64(0),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawOp(raw, "Borrow")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.(*op.Borrow).Currency != nil {
		t.Error("omitted currency should parse as nil")
	}
}

func TestParseLiquidate(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":         "550e8400-e29b-41d4-a716-446655440000",
		"liquidator_id": "660e8400-e29b-41d4-a716-446655440001",
		"account_id":    "770e8400-e29b-41d4-a716-446655440002",
		"sequence":      int64(9),
		"timestamp":     int64(1700000500),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawOp(raw, "Liquidate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	l, ok := parsed.(*op.Liquidate)
	if !ok {
		t.Fatalf("expected *op.Liquidate, got %T", parsed)
	}
	if l.LiquidatorID.String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("liquidator: got %s", l.LiquidatorID)
	}
	if l.AccountID.String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("account: got %s", l.AccountID)
	}
}

func TestParseDebtTransferFrom(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":      "550e8400-e29b-41d4-a716-446655440000",
		"spender_id": "660e8400-e29b-41d4-a716-446655440001",
		"from_id":    "770e8400-e29b-41d4-a716-446655440002",
		"to_id":      "880e8400-e29b-41d4-a716-446655440003",
		"currency":   "USD",
		"amount":     "25000000000000000000",
		"sequence":   int64(4),
		"timestamp":  int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawOp(raw, "DebtTransferFrom")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tf, ok := parsed.(*op.DebtTransferFrom)
	if !ok {
		t.Fatalf("expected *op.DebtTransferFrom, got %T", parsed)
	}
	if tf.Currency != protocol.USD {
		t.Errorf("currency: got %v, want USD", tf.Currency)
	}
	// Partition follows the spender, who authorizes the pull.
	if acct := tf.Account(); acct == nil || *acct != tf.SpenderID {
		t.Error("transfer-from should partition on the spender")
	}
}

func TestParseRateUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "550e8400-e29b-41d4-a716-446655440000",
		"caller_id": "660e8400-e29b-41d4-a716-446655440001",
		"currency":  "USD",
		"rate":      "30000000000",
		"sequence":  int64(77),
		"timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawOp(raw, "RateUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	r, ok := parsed.(*op.RateUpdate)
	if !ok {
		t.Fatalf("expected *op.RateUpdate, got %T", parsed)
	}
	if r.Rate.Cmp(big.NewInt(30_000_000_000)) != 0 {
		t.Errorf("rate: got %s, want 30000000000", r.Rate)
	}
	if r.Account() != nil {
		t.Error("rate updates are global, account must be nil")
	}
}

func TestParseRateUpdateAll(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "550e8400-e29b-41d4-a716-446655440000",
		"caller_id": "660e8400-e29b-41d4-a716-446655440001",
		"rates": map[string]string{
			"USD": "30000000000",
			"INR": "360000000",
		},
		"sequence":  int64(78),
		"timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawOp(raw, "RateUpdateAll")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	r, ok := parsed.(*op.RateUpdateAll)
	if !ok {
		t.Fatalf("expected *op.RateUpdateAll, got %T", parsed)
	}
	if len(r.Rates) != 2 {
		t.Fatalf("rates: got %d entries, want 2", len(r.Rates))
	}
	if r.Rates[protocol.INR].Cmp(big.NewInt(360_000_000)) != 0 {
		t.Errorf("INR rate: got %s", r.Rates[protocol.INR])
	}
}

func TestParseUnknownOpType_Fails(t *testing.T) {
	raw := ingestion.RawOp{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawOp(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown op type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawOp{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawOp(raw, "Deposit")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":      "not-a-uuid",
		"account_id": "also-not-a-uuid",
		"amount":     "1",
		"sequence":   int64(0),
		"timestamp":  int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawOp(raw, "Deposit")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseBadAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":      "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "660e8400-e29b-41d4-a716-446655440001",
		"amount":     "12.5",
		"sequence":   int64(0),
		"timestamp":  int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawOp(raw, "Deposit")
	if err == nil {
		t.Fatal("expected error for fractional amount")
	}
}

func TestParseBadCurrency_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":      "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "660e8400-e29b-41d4-a716-446655440001",
		"currency":   "EUR",
		"sequence":   int64(0),
		"timestamp":  int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawOp(raw, "SetCurrency")
	if err == nil {
		t.Fatal("expected error for unsupported currency")
	}
}

func TestLiquidationWire_RoundTrip(t *testing.T) {
	wire := ingestion.LiquidationWire{
		Borrower:         "770e8400-e29b-41d4-a716-446655440002",
		Liquidator:       "660e8400-e29b-41d4-a716-446655440001",
		DebtRepaid:       "200000000000000000000",
		CollateralSeized: "1000000000000000000",
		BonusSeized:      "0",
		Currency:         "USD",
		OriginBlock:      42,
		OriginTxID:       "550e8400-e29b-41d4-a716-446655440000",
		Timestamp:        1700000000,
	}

	debt, seized, bonus, err := wire.Amounts()
	if err != nil {
		t.Fatalf("amounts: %v", err)
	}
	wantDebt, _ := new(big.Int).SetString("200000000000000000000", 10)
	if debt.Cmp(wantDebt) != 0 {
		t.Errorf("debt: got %s", debt)
	}
	if seized.Cmp(big.NewInt(1_000_000_000_000_000_000)) != 0 {
		t.Errorf("seized: got %s", seized)
	}
	if bonus.Sign() != 0 {
		t.Errorf("bonus: got %s", bonus)
	}
}

func TestLiquidationWire_BadAmount_Fails(t *testing.T) {
	wire := ingestion.LiquidationWire{DebtRepaid: "not-a-number"}
	if _, _, _, err := wire.Amounts(); err == nil {
		t.Fatal("expected error for malformed amount")
	}
}
