package engine

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"LendLedger/internal/oracle"
	"LendLedger/internal/protocol"
	"LendLedger/internal/token"
)

// CollateralVault pays seized or withdrawn collateral out of the engine's
// custody. Implementations may reach external systems and fail; the engine
// commits its own state first and rolls back if the payout fails.
type CollateralVault interface {
	Transfer(to uuid.UUID, amount *big.Int) error
}

// PositionEngine owns every position and drives the lending rules: deposits,
// withdrawals, borrows against the 75% LTV ceiling, repayments, and
// liquidation of positions whose health factor drops below 1.0. It is the
// single mint/burn authority on both debt ledgers.
//
// The engine is single-writer: the core applies one operation at a time, so
// there is no internal locking.
type PositionEngine struct {
	id     uuid.UUID
	owner  uuid.UUID
	paused bool

	positions map[uuid.UUID]*Position

	// Append-only enumeration index with a presence set so each account
	// registers at most once. Liquidation scanning iterates this.
	accountIndex []uuid.UUID
	registered   map[uuid.UUID]struct{}

	ledgers    map[protocol.Currency]*token.DebtLedger
	oracle     *oracle.PriceOracle
	vault      CollateralVault
	rateMaxAge int64 // seconds; 0 disables staleness checks
}

type Config struct {
	ID         uuid.UUID
	Owner      uuid.UUID
	Oracle     *oracle.PriceOracle
	Ledgers    map[protocol.Currency]*token.DebtLedger
	Vault      CollateralVault
	RateMaxAge int64
}

func NewPositionEngine(cfg Config) *PositionEngine {
	return &PositionEngine{
		id:         cfg.ID,
		owner:      cfg.Owner,
		positions:  make(map[uuid.UUID]*Position),
		registered: make(map[uuid.UUID]struct{}),
		ledgers:    cfg.Ledgers,
		oracle:     cfg.Oracle,
		vault:      cfg.Vault,
		rateMaxAge: cfg.RateMaxAge,
	}
}

// ID returns the engine's mint/burn identity.
func (e *PositionEngine) ID() uuid.UUID { return e.id }

// SetPaused flips the emergency stop. Owner only. While paused every
// user-facing mutating operation fails uniformly.
func (e *PositionEngine) SetPaused(caller uuid.UUID, paused bool) error {
	if caller != e.owner {
		return fmt.Errorf("%w: caller %s is not the owner", protocol.ErrUnauthorized, caller)
	}
	e.paused = paused
	return nil
}

func (e *PositionEngine) Paused() bool { return e.paused }

// Deposit credits collateral to the account's position, creating and
// registering it on first use.
func (e *PositionEngine) Deposit(account uuid.UUID, amount *big.Int) error {
	if e.paused {
		return protocol.ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return protocol.ErrZeroAmount
	}
	pos := e.getOrCreate(account)
	pos.Collateral.Add(pos.Collateral, amount)
	return nil
}

// Withdraw releases collateral back to the account. A position carrying debt
// must stay at or above the 1.0 health boundary after the withdrawal. State
// commits before the vault payout; a failed payout rolls the whole operation
// back.
func (e *PositionEngine) Withdraw(account uuid.UUID, amount *big.Int, now int64) error {
	if e.paused {
		return protocol.ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return protocol.ErrZeroAmount
	}
	pos, ok := e.positions[account]
	if !ok || pos.Collateral.Cmp(amount) < 0 {
		return fmt.Errorf("%w: withdraw %s", protocol.ErrInsufficientCollateral, amount)
	}

	if pos.Borrowed.Sign() > 0 {
		rate, err := e.oracle.RateMaxAge(pos.Currency, e.rateMaxAge, now)
		if err != nil {
			return err
		}
		remaining := new(big.Int).Sub(pos.Collateral, amount)
		hf := protocol.HealthFactor(protocol.FiatValue(remaining, rate), pos.Borrowed)
		if !protocol.IsSafe(hf) {
			return fmt.Errorf("%w: health factor would drop to %s", protocol.ErrWithdrawWouldLiquidate, hf)
		}
	}

	pos.Collateral.Sub(pos.Collateral, amount)
	if err := e.vault.Transfer(account, amount); err != nil {
		pos.Collateral.Add(pos.Collateral, amount)
		return fmt.Errorf("collateral payout failed: %w", err)
	}
	return nil
}

// SetCurrency picks the debt denomination. Locked while debt is outstanding.
func (e *PositionEngine) SetCurrency(account uuid.UUID, c protocol.Currency) error {
	if e.paused {
		return protocol.ErrPaused
	}
	if !c.Valid() {
		return fmt.Errorf("%w: tag %d", protocol.ErrInvalidCurrency, c)
	}
	pos := e.getOrCreate(account)
	if pos.Borrowed.Sign() > 0 {
		return protocol.ErrCurrencyLockedWhileInDebt
	}
	pos.Currency = c
	pos.CurrencySet = true
	return nil
}

// Borrow mints debt in the account's previously chosen currency.
func (e *PositionEngine) Borrow(account uuid.UUID, amount *big.Int, now int64) error {
	if e.paused {
		return protocol.ErrPaused
	}
	pos, ok := e.positions[account]
	if !ok || pos.Collateral.Sign() == 0 {
		return fmt.Errorf("%w: no collateral deposited", protocol.ErrInsufficientCollateral)
	}
	if !pos.CurrencySet {
		return protocol.ErrNoCurrencySet
	}
	return e.borrow(pos, amount, pos.Currency, now)
}

// BorrowIn mints debt in an explicit currency, switching the position's
// denomination when it is debt-free. A nonzero balance in another currency
// locks the switch.
func (e *PositionEngine) BorrowIn(account uuid.UUID, amount *big.Int, c protocol.Currency, now int64) error {
	if e.paused {
		return protocol.ErrPaused
	}
	if !c.Valid() {
		return fmt.Errorf("%w: tag %d", protocol.ErrInvalidCurrency, c)
	}
	pos, ok := e.positions[account]
	if !ok || pos.Collateral.Sign() == 0 {
		return fmt.Errorf("%w: no collateral deposited", protocol.ErrInsufficientCollateral)
	}
	if pos.Borrowed.Sign() > 0 && pos.Currency != c {
		return protocol.ErrCurrencyLockedWhileInDebt
	}
	return e.borrow(pos, amount, c, now)
}

func (e *PositionEngine) borrow(pos *Position, amount *big.Int, c protocol.Currency, now int64) error {
	if amount == nil || amount.Sign() <= 0 {
		return protocol.ErrZeroAmount
	}
	rate, err := e.oracle.RateMaxAge(c, e.rateMaxAge, now)
	if err != nil {
		return err
	}

	fiat := protocol.FiatValue(pos.Collateral, rate)
	limit := protocol.MaxBorrow(fiat)
	next := new(big.Int).Add(pos.Borrowed, amount)
	if next.Cmp(limit) > 0 {
		return fmt.Errorf("%w: %s would exceed limit %s", protocol.ErrBorrowLimitExceeded, next, limit)
	}

	if err := e.ledgers[c].Mint(e.id, pos.Account, amount); err != nil {
		return err
	}
	pos.Borrowed.Set(next)
	pos.Currency = c
	pos.CurrencySet = true
	return nil
}

// Repay burns debt units against the outstanding balance. Overpayment clamps
// to the debt; the return value is the amount actually repaid.
func (e *PositionEngine) Repay(account uuid.UUID, amount *big.Int) (*big.Int, error) {
	if e.paused {
		return nil, protocol.ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, protocol.ErrZeroAmount
	}
	pos, ok := e.positions[account]
	if !ok || pos.Borrowed.Sign() == 0 {
		return nil, protocol.ErrNoBorrowedDebt
	}

	repaid := new(big.Int).Set(amount)
	if repaid.Cmp(pos.Borrowed) > 0 {
		repaid.Set(pos.Borrowed)
	}
	if err := e.ledgers[pos.Currency].Burn(e.id, account, repaid); err != nil {
		return nil, err
	}
	pos.Borrowed.Sub(pos.Borrowed, repaid)
	return repaid, nil
}

// LiquidationReceipt reports what a successful liquidation moved. The core
// publishes it to the archive relay.
type LiquidationReceipt struct {
	Borrower         uuid.UUID
	Liquidator       uuid.UUID
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	BonusSeized      *big.Int
	Currency         protocol.Currency
}

// Liquidate closes an unsafe position. Callable by anyone holding enough
// debt units. The borrower's debt zeroes and the seized collateral leaves
// the position before the outbound transfer and burn, so a re-entered call
// cannot read stale state. A failed payout rolls everything back.
func (e *PositionEngine) Liquidate(liquidator, account uuid.UUID, now int64) (*LiquidationReceipt, error) {
	if e.paused {
		return nil, protocol.ErrPaused
	}
	pos, ok := e.positions[account]
	if !ok || pos.Borrowed.Sign() == 0 {
		return nil, protocol.ErrNoBorrowedDebt
	}
	rate, err := e.oracle.RateMaxAge(pos.Currency, e.rateMaxAge, now)
	if err != nil {
		return nil, err
	}

	hf := protocol.HealthFactor(protocol.FiatValue(pos.Collateral, rate), pos.Borrowed)
	if protocol.IsSafe(hf) {
		return nil, fmt.Errorf("%w: health factor %s", protocol.ErrPositionHealthy, hf)
	}

	ledger := e.ledgers[pos.Currency]
	debt := new(big.Int).Set(pos.Borrowed)
	if ledger.BalanceOf(liquidator).Cmp(debt) < 0 {
		return nil, fmt.Errorf("%w: liquidator must hold %s %s units",
			protocol.ErrInsufficientDebtBalance, debt, pos.Currency)
	}

	seized, bonus := protocol.Seizure(debt, rate, pos.Collateral)

	// Effects first: the position is settled before any transfer or burn.
	pos.Borrowed.SetInt64(0)
	pos.Collateral.Sub(pos.Collateral, seized)

	if err := ledger.Burn(e.id, liquidator, debt); err != nil {
		pos.Borrowed.Set(debt)
		pos.Collateral.Add(pos.Collateral, seized)
		return nil, err
	}
	if err := e.vault.Transfer(liquidator, seized); err != nil {
		if mintErr := ledger.Mint(e.id, liquidator, debt); mintErr != nil {
			panic(fmt.Sprintf("FATAL: liquidation rollback mint failed: %v", mintErr))
		}
		pos.Borrowed.Set(debt)
		pos.Collateral.Add(pos.Collateral, seized)
		return nil, fmt.Errorf("collateral payout failed: %w", err)
	}

	return &LiquidationReceipt{
		Borrower:         account,
		Liquidator:       liquidator,
		DebtRepaid:       debt,
		CollateralSeized: seized,
		BonusSeized:      bonus,
		Currency:         pos.Currency,
	}, nil
}

func (e *PositionEngine) getOrCreate(account uuid.UUID) *Position {
	pos, ok := e.positions[account]
	if !ok {
		pos = newPosition(account)
		e.positions[account] = pos
	}
	if _, seen := e.registered[account]; !seen {
		e.registered[account] = struct{}{}
		e.accountIndex = append(e.accountIndex, account)
	}
	return pos
}

// Accounts returns every registered account in registration order.
func (e *PositionEngine) Accounts() []uuid.UUID {
	out := make([]uuid.UUID, len(e.accountIndex))
	copy(out, e.accountIndex)
	return out
}

// Position returns a copy of the account's position, if it exists.
func (e *PositionEngine) Position(account uuid.UUID) (*Position, bool) {
	pos, ok := e.positions[account]
	if !ok {
		return nil, false
	}
	return pos.clone(), true
}

// AccountStatus is the read-only view of one position evaluated at the
// current rate.
type AccountStatus struct {
	Account      uuid.UUID
	Collateral   *big.Int
	Borrowed     *big.Int
	Currency     protocol.Currency
	CurrencySet  bool
	FiatValue    *big.Int
	HealthFactor *big.Int
	// LiquidationPrice is the 8-decimal rate at which the health factor
	// crosses 1.0; nil when undefined.
	LiquidationPrice *big.Int
}

// Status evaluates a position against the current oracle rate. Pure:
// repeated calls without an intervening mutation return identical results.
func (e *PositionEngine) Status(account uuid.UUID) (*AccountStatus, error) {
	pos, ok := e.positions[account]
	if !ok {
		pos = newPosition(account)
	}
	st := &AccountStatus{
		Account:     account,
		Collateral:  new(big.Int).Set(pos.Collateral),
		Borrowed:    new(big.Int).Set(pos.Borrowed),
		Currency:    pos.Currency,
		CurrencySet: pos.CurrencySet,
	}
	if pos.Borrowed.Sign() == 0 {
		st.HealthFactor = new(big.Int).Set(protocol.MaxHealthFactor)
		if pos.CurrencySet {
			if rate, err := e.oracle.Rate(pos.Currency); err == nil {
				st.FiatValue = protocol.FiatValue(pos.Collateral, rate)
			}
		}
		return st, nil
	}
	rate, err := e.oracle.Rate(pos.Currency)
	if err != nil {
		return nil, err
	}
	st.FiatValue = protocol.FiatValue(pos.Collateral, rate)
	st.HealthFactor = protocol.HealthFactor(st.FiatValue, pos.Borrowed)
	st.LiquidationPrice = protocol.LiquidationPrice(pos.Collateral, pos.Borrowed)
	return st, nil
}

// BorrowCapacity is the read-only borrow headroom view.
type BorrowCapacity struct {
	Account   uuid.UUID
	MaxBorrow *big.Int
	Remaining *big.Int
}

// Capacity evaluates the LTV ceiling for an account in a currency.
func (e *PositionEngine) Capacity(account uuid.UUID, c protocol.Currency) (*BorrowCapacity, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: tag %d", protocol.ErrInvalidCurrency, c)
	}
	pos, ok := e.positions[account]
	if !ok {
		pos = newPosition(account)
	}
	rate, err := e.oracle.Rate(c)
	if err != nil {
		return nil, err
	}
	limit := protocol.MaxBorrow(protocol.FiatValue(pos.Collateral, rate))
	remaining := new(big.Int).Sub(limit, pos.Borrowed)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return &BorrowCapacity{Account: account, MaxBorrow: limit, Remaining: remaining}, nil
}

// TotalBorrowed folds Position.Borrowed over every account in one currency.
// The core checks it against the debt ledger supply after each operation.
func (e *PositionEngine) TotalBorrowed(c protocol.Currency) *big.Int {
	sum := new(big.Int)
	for _, pos := range e.positions {
		if pos.CurrencySet && pos.Currency == c {
			sum.Add(sum, pos.Borrowed)
		}
	}
	return sum
}

// SnapshotPositions exports every position sorted by account.
func (e *PositionEngine) SnapshotPositions() []*Position {
	out := make([]*Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, pos.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0
	})
	return out
}

// Restore replaces engine state from snapshot data. The account index is
// rebuilt in the given order.
func (e *PositionEngine) Restore(positions []*Position, index []uuid.UUID, paused bool) {
	e.positions = make(map[uuid.UUID]*Position, len(positions))
	for _, pos := range positions {
		e.positions[pos.Account] = pos.clone()
	}
	e.accountIndex = make([]uuid.UUID, len(index))
	copy(e.accountIndex, index)
	e.registered = make(map[uuid.UUID]struct{}, len(index))
	for _, account := range index {
		e.registered[account] = struct{}{}
	}
	e.paused = paused
}

// CanonicalBytes returns a deterministic serialization for hashing:
// pause flag, then positions sorted by account, then the index order.
func (e *PositionEngine) CanonicalBytes() []byte {
	buf := make([]byte, 0, 1+len(e.positions)*64)
	if e.paused {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	for _, pos := range e.SnapshotPositions() {
		buf = append(buf, pos.CanonicalBytes()...)
	}
	for _, account := range e.accountIndex {
		buf = append(buf, account[:]...)
	}
	return buf
}
