package core_test

import (
	"math/big"
	"testing"

	"github.com/google/uuid"

	"LendLedger/internal/core"
	"LendLedger/internal/engine"
	"LendLedger/internal/ledger"
	"LendLedger/internal/op"
	"LendLedger/internal/oracle"
	"LendLedger/internal/protocol"
	"LendLedger/internal/token"
)

// --- Test helpers ---

var (
	ownerID   = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	engineID  = uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	updaterID = uuid.MustParse("12345678-1234-1234-1234-123456789012")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type nullVault struct{}

func (nullVault) Transfer(to uuid.UUID, amount *big.Int) error { return nil }

// newTestCore creates a Core with buffered channels and no DB checker.
func newTestCore(t *testing.T) (*core.Core, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	o := oracle.NewPriceOracle(updaterID)
	usd := token.NewDebtLedger(protocol.USD, ownerID)
	inr := token.NewDebtLedger(protocol.INR, ownerID)
	if err := usd.SetEngine(ownerID, engineID); err != nil {
		t.Fatal(err)
	}
	if err := inr.SetEngine(ownerID, engineID); err != nil {
		t.Fatal(err)
	}
	ledgers := map[protocol.Currency]*token.DebtLedger{
		protocol.USD: usd,
		protocol.INR: inr,
	}
	eng := engine.NewPositionEngine(engine.Config{
		ID:      engineID,
		Owner:   ownerID,
		Oracle:  o,
		Ledgers: ledgers,
		Vault:   nullVault{},
	})

	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewCore(core.Config{
		Oracle:         o,
		Engine:         eng,
		Ledgers:        ledgers,
		PersistChan:    persistChan,
		ProjectionChan: projChan,
	})
	return c, persistChan, projChan
}

func mustRateUpdate(c protocol.Currency, rate int64, rateSeq int64) *op.RateUpdate {
	return &op.RateUpdate{
		OpID:     uuid.New(),
		Caller:   updaterID,
		Currency: c,
		Rate:     big.NewInt(rate),
		Sequence: rateSeq,
		Time:     1000 + rateSeq,
	}
}

func mustDeposit(account uuid.UUID, amount *big.Int, seq int64) *op.Deposit {
	return &op.Deposit{
		OpID:      uuid.New(),
		AccountID: account,
		Amount:    amount,
		Sequence:  seq,
		Time:      1000 + seq,
	}
}

func mustSetCurrency(account uuid.UUID, c protocol.Currency, seq int64) *op.SetCurrency {
	return &op.SetCurrency{
		OpID:      uuid.New(),
		AccountID: account,
		Currency:  c,
		Sequence:  seq,
		Time:      1000 + seq,
	}
}

func mustBorrow(account uuid.UUID, amount *big.Int, seq int64) *op.Borrow {
	return &op.Borrow{
		OpID:      uuid.New(),
		AccountID: account,
		Amount:    amount,
		Sequence:  seq,
		Time:      1000 + seq,
	}
}

func mustLiquidate(liquidator, account uuid.UUID, seq int64) *op.Liquidate {
	return &op.Liquidate{
		OpID:         uuid.New(),
		LiquidatorID: liquidator,
		AccountID:    account,
		Sequence:     seq,
		Time:         1000 + seq,
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// openBorrowedPosition walks one account through rate, deposit, currency and
// borrow. Account partition sequences run 0, 1, 2.
func openBorrowedPosition(t *testing.T, c *core.Core, account uuid.UUID) {
	t.Helper()
	if err := c.ProcessOp(mustRateUpdate(protocol.USD, 30_000_000_000, 1)); err != nil {
		t.Fatalf("rate update: %v", err)
	}
	if err := c.ProcessOp(mustDeposit(account, units(1), 0)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := c.ProcessOp(mustSetCurrency(account, protocol.USD, 1)); err != nil {
		t.Fatalf("set currency: %v", err)
	}
	if err := c.ProcessOp(mustBorrow(account, units(200), 2)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
}

// ============================================================================
// Test: pipeline outputs
// ============================================================================

func TestDeposit_EmitsMovementBatch(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	account := uuid.New()

	if err := c.ProcessOp(mustDeposit(account, units(5), 0)); err != nil {
		t.Fatalf("ProcessOp: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	batch := outputs[0].Batch
	if len(batch.Movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(batch.Movements))
	}
	m := batch.Movements[0]
	if m.Kind != ledger.MovementCollateralDeposit || m.Amount.Cmp(units(5)) != 0 {
		t.Errorf("unexpected movement %+v", m)
	}
}

func TestBorrow_FullFlow(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	account := uuid.New()
	openBorrowedPosition(t, c, account)

	outputs := drainOutputs(persistCh)
	if len(outputs) != 4 {
		t.Fatalf("expected 4 outputs, got %d", len(outputs))
	}

	borrowOut := outputs[3]
	if borrowOut.Envelope.OpType != op.OpTypeBorrow {
		t.Fatalf("expected borrow envelope, got %v", borrowOut.Envelope.OpType)
	}
	m := borrowOut.Batch.Movements[0]
	if m.Kind != ledger.MovementDebtMint || *m.Currency != protocol.USD {
		t.Errorf("unexpected movement %+v", m)
	}
	for i, o := range outputs {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("output %d: sequence = %d", i, o.Envelope.Sequence)
		}
	}
}

func TestRejectedOp_NoOutputNoStateChange(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	account := uuid.New()

	// Borrow with no collateral: rejected, no envelope, no sequence burn.
	if err := c.ProcessOp(mustBorrow(account, units(1), 0)); err == nil {
		t.Fatal("expected rejection")
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Fatalf("rejected op must emit nothing, got %d outputs", len(outputs))
	}
	if c.GetSequence() != 0 {
		t.Errorf("sequence = %d, want 0", c.GetSequence())
	}
}

func TestLiquidation_EmitsFinalizedEvent(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	borrower := uuid.New()
	liquidator := uuid.New()
	openBorrowedPosition(t, c, borrower)

	// Fund the liquidator and crash the rate.
	if err := c.ProcessOp(mustDeposit(liquidator, units(10), 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOp(mustSetCurrency(liquidator, protocol.USD, 1)); err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOp(mustBorrow(liquidator, units(200), 2)); err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOp(mustRateUpdate(protocol.USD, 20_000_000_000, 2)); err != nil {
		t.Fatal(err)
	}
	drainOutputs(persistCh)

	liq := mustLiquidate(liquidator, borrower, 3)
	if err := c.ProcessOp(liq); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	out := outputs[0]
	if out.Liquidation == nil {
		t.Fatal("liquidation output should carry a finalized event")
	}
	if out.Liquidation.OriginTxID != liq.IdempotencyKey() {
		t.Errorf("origin tx id = %q, want the op's idempotency key", out.Liquidation.OriginTxID)
	}
	if out.Liquidation.OriginBlock != uint64(out.Envelope.Sequence) {
		t.Errorf("origin block = %d, want envelope sequence %d",
			out.Liquidation.OriginBlock, out.Envelope.Sequence)
	}
	if out.Liquidation.DebtRepaid.Cmp(units(200)) != 0 {
		t.Errorf("debt repaid = %s, want 200", out.Liquidation.DebtRepaid)
	}
	if len(out.Batch.Movements) != 2 {
		t.Errorf("liquidation batch should carry burn + seize movements, got %d", len(out.Batch.Movements))
	}
}

func TestLiquidation_DustSeizureStillApplies(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	borrower := uuid.New()
	liquidator := uuid.New()

	// A 1-raw-unit position borrowed to its exact 75% ceiling: fiat value
	// 300 raw units at $300, so maxBorrow is 225 raw units.
	if err := c.ProcessOp(mustRateUpdate(protocol.USD, 30_000_000_000, 1)); err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOp(mustDeposit(borrower, big.NewInt(1), 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOp(mustSetCurrency(borrower, protocol.USD, 1)); err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOp(mustBorrow(borrower, big.NewInt(225), 2)); err != nil {
		t.Fatalf("borrow at the ceiling: %v", err)
	}

	if err := c.ProcessOp(mustDeposit(liquidator, units(10), 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOp(mustSetCurrency(liquidator, protocol.USD, 1)); err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOp(mustBorrow(liquidator, big.NewInt(225), 2)); err != nil {
		t.Fatal(err)
	}

	// Rate drop pushes the health factor to ~0.888e18; the seizure formula
	// truncates to zero (225 * 1e8 / 25e9 == 0).
	if err := c.ProcessOp(mustRateUpdate(protocol.USD, 25_000_000_000, 2)); err != nil {
		t.Fatal(err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessOp(mustLiquidate(liquidator, borrower, 3)); err != nil {
		t.Fatalf("dust liquidation must apply cleanly: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	out := outputs[0]
	if out.Liquidation == nil {
		t.Fatal("liquidation output should carry a finalized event")
	}
	if out.Liquidation.CollateralSeized.Sign() != 0 {
		t.Errorf("collateral seized = %s, want 0", out.Liquidation.CollateralSeized)
	}
	if out.Liquidation.DebtRepaid.Cmp(big.NewInt(225)) != 0 {
		t.Errorf("debt repaid = %s, want 225", out.Liquidation.DebtRepaid)
	}
	if len(out.Batch.Movements) != 1 {
		t.Fatalf("expected burn leg only, got %d movements", len(out.Batch.Movements))
	}
	if m := out.Batch.Movements[0]; m.Kind != ledger.MovementDebtBurn || m.Amount.Sign() <= 0 {
		t.Errorf("unexpected movement %+v", m)
	}
}

// ============================================================================
// Test: idempotency and sequencing
// ============================================================================

func TestIdempotency_DuplicateDeposit_Ignored(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	account := uuid.New()

	deposit := mustDeposit(account, units(5), 0)
	if err := c.ProcessOp(deposit); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if len(drainOutputs(persistCh)) != 1 {
		t.Fatal("expected 1 output on first process")
	}

	if err := c.ProcessOp(deposit); err != nil {
		t.Fatalf("duplicate should not error: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected 0 outputs for duplicate, got %d", len(outputs))
	}
}

func TestSequenceValidation_GapDetected(t *testing.T) {
	c, _, _ := newTestCore(t)
	account := uuid.New()

	if err := c.ProcessOp(mustDeposit(account, units(1), 0)); err != nil {
		t.Fatalf("seq 0: %v", err)
	}
	if err := c.ProcessOp(mustDeposit(account, units(1), 2)); err == nil {
		t.Fatal("expected sequence gap error")
	}
}

func TestRateUpdate_StaleIgnored(t *testing.T) {
	c, persistCh, _ := newTestCore(t)

	if err := c.ProcessOp(mustRateUpdate(protocol.USD, 30_000_000_000, 5)); err != nil {
		t.Fatalf("rate seq 5: %v", err)
	}
	drainOutputs(persistCh)

	// Stale tick: silently dropped, rate unchanged.
	if err := c.ProcessOp(mustRateUpdate(protocol.USD, 10_000_000_000, 3)); err != nil {
		t.Fatalf("stale rate should not error: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("stale rate should emit nothing, got %d outputs", len(outputs))
	}
}

func TestRateUpdate_GapTolerated(t *testing.T) {
	c, persistCh, _ := newTestCore(t)

	if err := c.ProcessOp(mustRateUpdate(protocol.USD, 30_000_000_000, 1)); err != nil {
		t.Fatal(err)
	}
	// Jump to seq 10: gap accepted, rate applies.
	if err := c.ProcessOp(mustRateUpdate(protocol.USD, 31_000_000_000, 10)); err != nil {
		t.Fatalf("gapped rate should apply: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 2 {
		t.Errorf("expected 2 outputs, got %d", len(outputs))
	}
}

// ============================================================================
// Test: state hash chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	account := uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	opID := uuid.MustParse("00000000-0000-0000-0000-00000000d001")

	processOnce := func() [][32]byte {
		c, persistCh, _ := newTestCore(t)
		deposit := &op.Deposit{
			OpID:      opID,
			AccountID: account,
			Amount:    units(5),
			Sequence:  0,
			Time:      1000,
		}
		if err := c.ProcessOp(deposit); err != nil {
			t.Fatalf("ProcessOp: %v", err)
		}
		outputs := drainOutputs(persistCh)
		hashes := make([][32]byte, len(outputs))
		for i, o := range outputs {
			hashes[i] = o.Envelope.StateHash
		}
		return hashes
	}

	hashes1 := processOnce()
	hashes2 := processOnce()
	if len(hashes1) != len(hashes2) {
		t.Fatalf("different output counts: %d vs %d", len(hashes1), len(hashes2))
	}
	for i := range hashes1 {
		if hashes1[i] != hashes2[i] {
			t.Errorf("hash %d differs: %x vs %x", i, hashes1[i], hashes2[i])
		}
	}
}

func TestEnvelope_ChainLinks(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	account := uuid.New()

	if err := c.ProcessOp(mustDeposit(account, units(1), 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOp(mustDeposit(account, units(2), 1)); err != nil {
		t.Fatal(err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	if outputs[1].Envelope.PrevHash != outputs[0].Envelope.StateHash {
		t.Error("envelope prev hash should link to the previous state hash")
	}
	if outputs[0].Envelope.PrevHash == outputs[0].Envelope.StateHash {
		t.Error("prev hash must be captured before folding the new digest")
	}
}

// ============================================================================
// Test: supply invariant (P4)
// ============================================================================

func TestSupplyInvariant_HeldAcrossLifecycle(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	borrower := uuid.New()
	openBorrowedPosition(t, c, borrower)

	repay := &op.Repay{
		OpID:      uuid.New(),
		AccountID: borrower,
		Amount:    units(80),
		Sequence:  3,
		Time:      2000,
	}
	if err := c.ProcessOp(repay); err != nil {
		t.Fatalf("repay: %v", err)
	}
	outputs := drainOutputs(persistCh)
	last := outputs[len(outputs)-1]
	if last.Batch.Movements[0].Kind != ledger.MovementDebtBurn {
		t.Error("repay should emit a debt burn movement")
	}
	if last.Batch.Movements[0].Amount.Cmp(units(80)) != 0 {
		t.Errorf("burned %s, want 80", last.Batch.Movements[0].Amount)
	}
}

// ============================================================================
// Test: snapshot round-trip
// ============================================================================

func TestSnapshotRestore_ResumesChain(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	account := uuid.New()
	openBorrowedPosition(t, c, account)
	drainOutputs(persistCh)

	snap := c.CreateSnapshotState()
	if snap.Sequence != c.GetSequence()-1 {
		t.Fatalf("snapshot sequence = %d, want %d", snap.Sequence, c.GetSequence()-1)
	}

	restored, restoredPersist, _ := newTestCore(t)
	restored.RestoreFromSnapshot(snap)

	if restored.GetSequence() != c.GetSequence() {
		t.Errorf("restored sequence = %d, want %d", restored.GetSequence(), c.GetSequence())
	}
	if restored.GetStateHash() != c.GetStateHash() {
		t.Error("restored chain tip should match")
	}

	// The restored core keeps working where the old one stopped.
	if err := restored.ProcessOp(mustDeposit(account, units(1), 3)); err != nil {
		t.Fatalf("post-restore deposit: %v", err)
	}
	outputs := drainOutputs(restoredPersist)
	if len(outputs) != 1 || outputs[0].Envelope.Sequence != snap.Sequence+1 {
		t.Error("restored core should continue the sequence")
	}
}

// ============================================================================
// Test: projection channel (non-blocking drop)
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	o := oracle.NewPriceOracle(updaterID)
	usd := token.NewDebtLedger(protocol.USD, ownerID)
	inr := token.NewDebtLedger(protocol.INR, ownerID)
	if err := usd.SetEngine(ownerID, engineID); err != nil {
		t.Fatal(err)
	}
	if err := inr.SetEngine(ownerID, engineID); err != nil {
		t.Fatal(err)
	}
	ledgers := map[protocol.Currency]*token.DebtLedger{protocol.USD: usd, protocol.INR: inr}
	eng := engine.NewPositionEngine(engine.Config{
		ID: engineID, Owner: ownerID, Oracle: o, Ledgers: ledgers, Vault: nullVault{},
	})
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1) // Tiny buffer — will fill up
	c := core.NewCore(core.Config{
		Oracle: o, Engine: eng, Ledgers: ledgers,
		PersistChan: persistCh, ProjectionChan: projCh,
	})

	account := uuid.New()
	for i := int64(0); i < 5; i++ {
		if err := c.ProcessOp(mustDeposit(account, units(1), i)); err != nil {
			t.Fatalf("ProcessOp %d: %v", i, err)
		}
	}

	// All 5 persist even though projections dropped.
	if outputs := drainOutputs(persistCh); len(outputs) != 5 {
		t.Errorf("expected 5 persist outputs, got %d", len(outputs))
	}
}
