package persistence_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
	"LendLedger/internal/op"
	"LendLedger/internal/persistence"
	"LendLedger/internal/protocol"
)

func TestNewOpRow_MapsEnvelope(t *testing.T) {
	account := uuid.New()
	env := &op.Envelope{
		Sequence:       42,
		IdempotencyKey: "key-1",
		OpType:         op.OpTypeDeposit,
		Account:        &account,
		Timestamp:      time.Unix(1700000000, 0).UTC(),
		SourceSequence: 7,
		Payload:        []byte(`{"amount":"5"}`),
	}
	env.StateHash[0] = 0xAB
	env.PrevHash[0] = 0xCD

	row := persistence.NewOpRow(core.CoreOutput{Envelope: env})

	if row.Sequence != 42 || row.OpType != "Deposit" || row.IdempotencyKey != "key-1" {
		t.Errorf("unexpected row %+v", row)
	}
	if row.Account == nil || *row.Account != account.String() {
		t.Errorf("account = %v, want %s", row.Account, account)
	}
	if row.StateHash[0] != 0xAB || row.PrevHash[0] != 0xCD {
		t.Error("hashes not carried through")
	}
	if row.SourceSequence != 7 {
		t.Errorf("source sequence = %d", row.SourceSequence)
	}
}

func TestNewOpRow_GlobalOpHasNilAccount(t *testing.T) {
	env := &op.Envelope{OpType: op.OpTypeRateUpdate}
	row := persistence.NewOpRow(core.CoreOutput{Envelope: env})
	if row.Account != nil {
		t.Errorf("account = %v, want nil", row.Account)
	}
}

func TestNewMovementRows_AmountsAsDecimalStrings(t *testing.T) {
	from := uuid.New()
	to := uuid.New()
	batch := ledger.NewBatch("op-1", 9, 1700000000)
	usd := protocol.USD
	amount, _ := new(big.Int).SetString("3000000000000000000000", 10)
	batch.Add(ledger.MovementDebtTransfer, &usd, from, &to, amount)

	rows := persistence.NewMovementRows(batch)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Amount != "3000000000000000000000" {
		t.Errorf("amount = %q", r.Amount)
	}
	if r.Kind != "debt_transfer" {
		t.Errorf("kind = %q", r.Kind)
	}
	if r.Currency == nil || *r.Currency != "USD" {
		t.Errorf("currency = %v", r.Currency)
	}
	if r.Counterparty == nil || *r.Counterparty != to.String() {
		t.Errorf("counterparty = %v", r.Counterparty)
	}
	if r.OpRef != "op-1" || r.Sequence != 9 {
		t.Errorf("op ref/sequence = %q/%d", r.OpRef, r.Sequence)
	}
}

func TestNewMovementRows_CollateralHasNoCurrency(t *testing.T) {
	batch := ledger.NewBatch("op-2", 1, 1700000000)
	batch.Add(ledger.MovementCollateralDeposit, nil, uuid.New(), nil, big.NewInt(1))

	rows := persistence.NewMovementRows(batch)
	if rows[0].Currency != nil {
		t.Errorf("currency = %v, want nil", rows[0].Currency)
	}
	if rows[0].Counterparty != nil {
		t.Errorf("counterparty = %v, want nil", rows[0].Counterparty)
	}
}
