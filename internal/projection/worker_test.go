package projection

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
	"LendLedger/internal/op"
	"LendLedger/internal/protocol"
	"LendLedger/internal/testutil"
)

func depositOutput(account uuid.UUID, seq int64, amount *big.Int) core.CoreOutput {
	env := &op.Envelope{
		Sequence:       seq,
		IdempotencyKey: uuid.NewString(),
		OpType:         op.OpTypeDeposit,
		Account:        &account,
		Timestamp:      time.Unix(1700000000, 0).UTC(),
	}
	batch := ledger.NewBatch(env.IdempotencyKey, seq, 1700000000)
	batch.Add(ledger.MovementCollateralDeposit, nil, account, nil, amount)
	return core.CoreOutput{Envelope: env, Batch: batch}
}

func TestProcessOutput_AppliesMovementBatch(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	pw := NewProjectionWorker(db, nil, zerolog.Nop())
	ctx := context.Background()
	account := uuid.New()

	amount, _ := new(big.Int).SetString("2000000000000000000", 10)
	if err := pw.processOutput(ctx, depositOutput(account, 0, amount)); err != nil {
		t.Fatalf("processOutput: %v", err)
	}

	var collateral, borrowed string
	err := db.QueryRow(`
		SELECT collateral, borrowed FROM projections.positions WHERE account = $1
	`, account).Scan(&collateral, &borrowed)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if collateral != "2000000000000000000" {
		t.Errorf("collateral = %q, want 2000000000000000000", collateral)
	}
	if borrowed != "0" {
		t.Errorf("borrowed = %q, want 0", borrowed)
	}

	var watermark int64
	if err := db.QueryRow(`
		SELECT sequence FROM projections.watermark WHERE name = 'main'
	`).Scan(&watermark); err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	if watermark != 0 {
		t.Errorf("watermark = %d, want 0", watermark)
	}
}

func TestProcessOutput_MintUpdatesBorrowedAndBalance(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	pw := NewProjectionWorker(db, nil, zerolog.Nop())
	ctx := context.Background()
	account := uuid.New()

	collateral, _ := new(big.Int).SetString("2000000000000000000", 10)
	if err := pw.processOutput(ctx, depositOutput(account, 0, collateral)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	env := &op.Envelope{
		Sequence:       1,
		IdempotencyKey: uuid.NewString(),
		OpType:         op.OpTypeBorrow,
		Account:        &account,
		Timestamp:      time.Unix(1700000001, 0).UTC(),
	}
	usd := protocol.USD
	borrowed, _ := new(big.Int).SetString("100000000000000000000", 10)
	batch := ledger.NewBatch(env.IdempotencyKey, 1, 1700000001)
	batch.Add(ledger.MovementDebtMint, &usd, account, nil, borrowed)
	if err := pw.processOutput(ctx, core.CoreOutput{Envelope: env, Batch: batch}); err != nil {
		t.Fatalf("mint: %v", err)
	}

	var gotBorrowed string
	var currencySet bool
	err := db.QueryRow(`
		SELECT borrowed, currency_set FROM projections.positions WHERE account = $1
	`, account).Scan(&gotBorrowed, &currencySet)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if gotBorrowed != "100000000000000000000" {
		t.Errorf("borrowed = %q, want 100000000000000000000", gotBorrowed)
	}
	if !currencySet {
		t.Error("currency_set should be TRUE after mint")
	}

	var balance string
	err = db.QueryRow(`
		SELECT balance FROM projections.debt_balances WHERE account = $1 AND currency = 'USD'
	`, account).Scan(&balance)
	if err != nil {
		t.Fatalf("read debt balance: %v", err)
	}
	if balance != "100000000000000000000" {
		t.Errorf("balance = %q, want 100000000000000000000", balance)
	}
}
