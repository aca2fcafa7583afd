package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/engine"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/op"
	"LendLedger/internal/oracle"
	"LendLedger/internal/protocol"
	"LendLedger/internal/token"
)

// globalCheckInterval is how often (in sequences) the core re-verifies the
// full supply-vs-borrowed equality across every currency.
const globalCheckInterval = 1000

// Core is the single-threaded operation processor. It owns the oracle, both
// debt ledgers and the position engine, applies one operation at a time, and
// emits one CoreOutput per applied operation.
type Core struct {
	sequence          int64
	hasher            *StateHasher
	oracle            *oracle.PriceOracle
	engine            *engine.PositionEngine
	ledgers           map[protocol.Currency]*token.DebtLedger
	movementGen       *ledger.MovementGenerator
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput carries one applied operation to the persistence and projection
// workers. Liquidation is non-nil only for liquidation ops; the outbound
// publisher relays it to the archive after the persist hand-off.
type CoreOutput struct {
	Envelope    *op.Envelope
	Batch       *ledger.Batch
	StateDelta  []byte
	Liquidation *op.LiquidationFinalized
}

type Config struct {
	StartSequence  int64
	Oracle         *oracle.PriceOracle
	Engine         *engine.PositionEngine
	Ledgers        map[protocol.Currency]*token.DebtLedger
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
	DBChecker      DBIdempotencyChecker
	Metrics        *observability.Metrics
	LRUCapacity    int
}

func NewCore(cfg Config) *Core {
	capacity := cfg.LRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	return &Core{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		oracle:            cfg.Oracle,
		engine:            cfg.Engine,
		ledgers:           cfg.Ledgers,
		movementGen:       ledger.NewMovementGenerator(),
		idempotency:       NewIdempotencyChecker(capacity, cfg.DBChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           cfg.Metrics,
		persistChan:       cfg.PersistChan,
		projectionChan:    cfg.ProjectionChan,
	}
}

// ProcessOp is the main processing pipeline.
func (c *Core) ProcessOp(o op.Op) error {
	start := time.Now()
	opType := o.OpType().String()
	idempotencyKey := o.IdempotencyKey()

	// Step 1: idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(opType, idempotencyKey)

	// Step 2: sequence validation. Rate updates tolerate gaps; stale ticks
	// are dropped silently. Everything else is strict per partition.
	switch r := o.(type) {
	case *op.RateUpdate:
		if c.sequenceValidator.ValidateRateSequence(r.Currency, r.Sequence) {
			return nil
		}
	case *op.RateUpdateAll:
		stale := true
		for _, cur := range protocol.Currencies() {
			if !c.sequenceValidator.ValidateRateSequence(cur, r.Sequence) {
				stale = false
			}
		}
		if stale {
			return nil
		}
	default:
		if err := c.sequenceValidator.ValidateSequence(c.getPartition(o), o.SourceSequence(), isDuplicate); err != nil {
			c.reject(opType, "sequence")
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		c.reject(opType, "duplicate")
		return nil
	}

	// Step 3: dispatch. A business-rule rejection returns here with no state
	// change and no output.
	batch, receipt, err := c.dispatch(o)
	if err != nil {
		c.reject(opType, "rejected")
		return err
	}

	// Step 4: movement batch sanity. A malformed batch means the core built
	// inconsistent state and must not continue.
	if len(batch.Movements) > 0 {
		if err := batch.Validate(); err != nil {
			panic(fmt.Sprintf("FATAL: malformed movement batch: %v", err))
		}
	}
	batch.Sequence = c.sequence

	// Step 5: invariant post-checks
	if err := c.postCheckInvariants(o); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: state digest and hash chain
	stateDigest := c.computeStateDigest(o, batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := json.Marshal(o)
	if err != nil {
		panic(fmt.Sprintf("FATAL: op payload marshal failed: %v", err))
	}

	envelope := &op.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		OpType:         o.OpType(),
		Account:        o.Account(),
		Timestamp:      time.Unix(o.At(), 0).UTC(),
		SourceSequence: o.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
	}
	if receipt != nil {
		output.Liquidation = &op.LiquidationFinalized{
			Borrower:         receipt.Borrower,
			Liquidator:       receipt.Liquidator,
			DebtRepaid:       receipt.DebtRepaid,
			CollateralSeized: receipt.CollateralSeized,
			BonusSeized:      receipt.BonusSeized,
			Currency:         receipt.Currency,
			OriginBlock:      uint64(c.sequence),
			OriginTxID:       idempotencyKey,
			Time:             o.At(),
		}
	}
	c.sequence++

	// Step 7: emit. Persistence is a blocking send — the core stalls until
	// the worker drains, so no applied op is ever lost. Projections get a
	// non-blocking send and rebuild from the log if they fall behind.
	c.persistChan <- output
	select {
	case c.projectionChan <- output:
	default:
	}

	// Step 8: mark processed
	c.idempotency.MarkProcessed(opType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreOpsApplied.WithLabelValues(opType).Inc()
		c.metrics.CoreOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
	return nil
}

func (c *Core) reject(opType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreOpsRejected.WithLabelValues(opType, reason).Inc()
	}
}

// getPartition determines the partition key for sequence validation.
func (c *Core) getPartition(o op.Op) string {
	if account := o.Account(); account != nil {
		return fmt.Sprintf("account:%s", *account)
	}
	return "global"
}

func (c *Core) dispatch(o op.Op) (*ledger.Batch, *engine.LiquidationReceipt, error) {
	switch e := o.(type) {
	case *op.Deposit:
		if err := c.engine.Deposit(e.AccountID, e.Amount); err != nil {
			return nil, nil, err
		}
		return c.movementGen.DepositBatch(e, c.sequence), nil, nil

	case *op.Withdraw:
		if err := c.engine.Withdraw(e.AccountID, e.Amount, e.Time); err != nil {
			return nil, nil, err
		}
		return c.movementGen.WithdrawBatch(e, c.sequence), nil, nil

	case *op.SetCurrency:
		if err := c.engine.SetCurrency(e.AccountID, e.Currency); err != nil {
			return nil, nil, err
		}
		return c.emptyBatch(e), nil, nil

	case *op.Borrow:
		if e.Currency != nil {
			if err := c.engine.BorrowIn(e.AccountID, e.Amount, *e.Currency, e.Time); err != nil {
				return nil, nil, err
			}
		} else {
			if err := c.engine.Borrow(e.AccountID, e.Amount, e.Time); err != nil {
				return nil, nil, err
			}
		}
		pos, _ := c.engine.Position(e.AccountID)
		return c.movementGen.BorrowBatch(e, pos.Currency, c.sequence), nil, nil

	case *op.Repay:
		repaid, err := c.engine.Repay(e.AccountID, e.Amount)
		if err != nil {
			return nil, nil, err
		}
		pos, _ := c.engine.Position(e.AccountID)
		return c.movementGen.RepayBatch(e, pos.Currency, repaid, c.sequence), nil, nil

	case *op.Liquidate:
		receipt, err := c.engine.Liquidate(e.LiquidatorID, e.AccountID, e.Time)
		if err != nil {
			return nil, nil, err
		}
		return c.movementGen.LiquidateBatch(e, receipt, c.sequence), receipt, nil

	case *op.DebtTransfer:
		dl, ok := c.ledgers[e.Currency]
		if !ok {
			return nil, nil, fmt.Errorf("%w: tag %d", protocol.ErrInvalidCurrency, e.Currency)
		}
		if err := dl.Transfer(e.FromID, e.ToID, e.Amount); err != nil {
			return nil, nil, err
		}
		return c.movementGen.TransferBatch(e, c.sequence), nil, nil

	case *op.DebtApprove:
		dl, ok := c.ledgers[e.Currency]
		if !ok {
			return nil, nil, fmt.Errorf("%w: tag %d", protocol.ErrInvalidCurrency, e.Currency)
		}
		if err := dl.Approve(e.OwnerID, e.SpenderID, e.Amount); err != nil {
			return nil, nil, err
		}
		return c.emptyBatch(e), nil, nil

	case *op.DebtTransferFrom:
		dl, ok := c.ledgers[e.Currency]
		if !ok {
			return nil, nil, fmt.Errorf("%w: tag %d", protocol.ErrInvalidCurrency, e.Currency)
		}
		if err := dl.TransferFrom(e.SpenderID, e.FromID, e.ToID, e.Amount); err != nil {
			return nil, nil, err
		}
		return c.movementGen.TransferFromBatch(e, c.sequence), nil, nil

	case *op.RateUpdate:
		if err := c.oracle.UpdateRate(e.Caller, e.Currency, e.Rate, e.Time); err != nil {
			return nil, nil, err
		}
		return c.emptyBatch(e), nil, nil

	case *op.RateUpdateAll:
		if err := c.oracle.UpdateAllRates(e.Caller, e.Rates, e.Time); err != nil {
			return nil, nil, err
		}
		return c.emptyBatch(e), nil, nil

	case *op.PauseSet:
		if err := c.engine.SetPaused(e.Caller, e.Paused); err != nil {
			return nil, nil, err
		}
		return c.emptyBatch(e), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown op type: %T", o)
	}
}

// emptyBatch covers state-only operations (currency selection, approvals,
// rate updates, pause). They move no balances but still log an envelope.
func (c *Core) emptyBatch(o op.Op) *ledger.Batch {
	return ledger.NewBatch(o.IdempotencyKey(), c.sequence, o.At())
}

// postCheckInvariants verifies supply == Σ balances == Σ borrowed for the
// currency an operation touched, and the full cross-currency equality every
// globalCheckInterval sequences.
func (c *Core) postCheckInvariants(o op.Op) error {
	switch e := o.(type) {
	case *op.Borrow, *op.Repay, *op.Liquidate:
		account := *o.Account()
		if l, ok := o.(*op.Liquidate); ok {
			account = l.AccountID
		}
		if pos, exists := c.engine.Position(account); exists && pos.CurrencySet {
			if err := c.checkCurrency(pos.Currency); err != nil {
				return err
			}
		}
	case *op.DebtTransfer:
		if err := c.checkCurrency(e.Currency); err != nil {
			return err
		}
	case *op.DebtTransferFrom:
		if err := c.checkCurrency(e.Currency); err != nil {
			return err
		}
	}

	if c.sequence > 0 && c.sequence%globalCheckInterval == 0 {
		for _, cur := range protocol.Currencies() {
			if err := c.checkCurrency(cur); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Core) checkCurrency(cur protocol.Currency) error {
	dl, ok := c.ledgers[cur]
	if !ok {
		return nil
	}
	supply := dl.TotalSupply()
	if sum := dl.SumBalances(); supply.Cmp(sum) != 0 {
		return fmt.Errorf("%s supply %s != sum of balances %s", cur, supply, sum)
	}
	if borrowed := c.engine.TotalBorrowed(cur); supply.Cmp(borrowed) != 0 {
		return fmt.Errorf("%s supply %s != total borrowed %s", cur, supply, borrowed)
	}
	return nil
}

// computeStateDigest builds canonical bytes over the state an operation
// touched: affected positions and debt balances, plus the oracle or pause
// flag for state-only operations.
func (c *Core) computeStateDigest(o op.Op, batch *ledger.Batch) []byte {
	digest := make([]byte, 0, 256)
	digest = append(digest, byte(o.OpType()))

	seen := make(map[uuid.UUID]bool)
	appendAccount := func(account uuid.UUID) {
		if seen[account] {
			return
		}
		seen[account] = true
		if pos, ok := c.engine.Position(account); ok {
			digest = append(digest, pos.CanonicalBytes()...)
		} else {
			digest = append(digest, account[:]...)
		}
		for _, cur := range protocol.Currencies() {
			if dl, ok := c.ledgers[cur]; ok {
				digest = append(digest, byte(cur))
				digest = protocol.AppendBig(digest, dl.BalanceOf(account))
			}
		}
	}

	for _, m := range batch.Movements {
		appendAccount(m.Account)
		if m.Counterparty != nil {
			appendAccount(*m.Counterparty)
		}
	}
	if account := o.Account(); account != nil {
		appendAccount(*account)
	}

	switch o.(type) {
	case *op.RateUpdate, *op.RateUpdateAll:
		digest = append(digest, c.oracle.CanonicalBytes()...)
	case *op.PauseSet:
		if c.engine.Paused() {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
	}
	return digest
}

// --- Snapshot restore & startup ---

// LedgerSnapshot is one debt ledger's exported state.
type LedgerSnapshot struct {
	Engine     uuid.UUID
	EngineSet  bool
	Holders    []token.HolderSnapshot
	Allowances []token.AllowanceSnapshot
}

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Positions       []*engine.Position
	AccountIndex    []uuid.UUID
	Paused          bool
	Prices          map[protocol.Currency]oracle.PriceSnapshot
	Ledgers         map[protocol.Currency]LedgerSnapshot
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *Core) CreateSnapshotState() *SnapshotState {
	ledgers := make(map[protocol.Currency]LedgerSnapshot, len(c.ledgers))
	for cur, dl := range c.ledgers {
		eng, set := dl.Engine()
		holders, allowances := dl.Snapshot()
		ledgers[cur] = LedgerSnapshot{
			Engine:     eng,
			EngineSet:  set,
			Holders:    holders,
			Allowances: allowances,
		}
	}
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Positions:       c.engine.SnapshotPositions(),
		AccountIndex:    c.engine.Accounts(),
		Paused:          c.engine.Paused(),
		Prices:          c.oracle.Snapshot(),
		Ledgers:         ledgers,
		SequenceState:   c.sequenceValidator.Snapshot(),
		IdempotencyKeys: c.idempotency.lru.keysList(),
	}
}

// RestoreFromSnapshot restores the core's in-memory state. On warm restart
// the caller then replays logged ops past the snapshot sequence.
func (c *Core) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.engine.Restore(snap.Positions, snap.AccountIndex, snap.Paused)
	c.oracle.Restore(snap.Prices)
	for cur, ls := range snap.Ledgers {
		if dl, ok := c.ledgers[cur]; ok {
			dl.Restore(ls.Engine, ls.EngineSet, ls.Holders, ls.Allowances)
		}
	}
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}
	c.idempotency.Warm(snap.IdempotencyKeys)
}

// WarmLRU loads recent idempotency keys so replay-adjacent submissions skip
// the cold path.
func (c *Core) WarmLRU(keys []string) {
	c.idempotency.Warm(keys)
}

// GetSequence returns the next sequence the core will assign.
func (c *Core) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current chain tip.
func (c *Core) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
