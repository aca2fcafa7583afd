package token

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

// DebtLedger tracks 18-decimal debt units for one currency, with the usual
// transferable-balance surface: balances, allowances, and a total supply.
// Supply only moves through Mint and Burn, and those are restricted to one
// engine identity registered exactly once after construction.
type DebtLedger struct {
	currency  protocol.Currency
	owner     uuid.UUID
	engine    uuid.UUID
	engineSet bool

	balances   map[uuid.UUID]*big.Int
	allowances map[uuid.UUID]map[uuid.UUID]*big.Int
	supply     *big.Int
}

func NewDebtLedger(currency protocol.Currency, owner uuid.UUID) *DebtLedger {
	return &DebtLedger{
		currency:   currency,
		owner:      owner,
		balances:   make(map[uuid.UUID]*big.Int),
		allowances: make(map[uuid.UUID]map[uuid.UUID]*big.Int),
		supply:     new(big.Int),
	}
}

func (dl *DebtLedger) Currency() protocol.Currency { return dl.currency }

// SetEngine registers the one identity allowed to mint and burn. Owner only,
// callable exactly once.
func (dl *DebtLedger) SetEngine(caller, engine uuid.UUID) error {
	if caller != dl.owner {
		return fmt.Errorf("%w: caller %s is not the owner", protocol.ErrUnauthorized, caller)
	}
	if dl.engineSet {
		return fmt.Errorf("%w: %s engine is %s", protocol.ErrEngineAlreadySet, dl.currency, dl.engine)
	}
	dl.engine = engine
	dl.engineSet = true
	return nil
}

// Engine returns the registered engine identity and whether one is set.
func (dl *DebtLedger) Engine() (uuid.UUID, bool) {
	return dl.engine, dl.engineSet
}

// Mint credits newly issued debt units to an account. Engine only.
func (dl *DebtLedger) Mint(caller, to uuid.UUID, amount *big.Int) error {
	if !dl.engineSet || caller != dl.engine {
		return fmt.Errorf("%w: mint on %s requires the engine", protocol.ErrUnauthorized, dl.currency)
	}
	if amount == nil || amount.Sign() <= 0 {
		return protocol.ErrZeroAmount
	}
	dl.credit(to, amount)
	dl.supply.Add(dl.supply, amount)
	return nil
}

// Burn destroys debt units held by an account. Engine only.
func (dl *DebtLedger) Burn(caller, from uuid.UUID, amount *big.Int) error {
	if !dl.engineSet || caller != dl.engine {
		return fmt.Errorf("%w: burn on %s requires the engine", protocol.ErrUnauthorized, dl.currency)
	}
	if amount == nil || amount.Sign() <= 0 {
		return protocol.ErrZeroAmount
	}
	if err := dl.debit(from, amount); err != nil {
		return err
	}
	dl.supply.Sub(dl.supply, amount)
	return nil
}

// Transfer moves units between holders.
func (dl *DebtLedger) Transfer(from, to uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return protocol.ErrZeroAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := dl.debit(from, amount); err != nil {
		return err
	}
	dl.credit(to, amount)
	return nil
}

// Approve sets spender's allowance over owner's balance, replacing any prior
// value.
func (dl *DebtLedger) Approve(owner, spender uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return protocol.ErrZeroAmount
	}
	inner, ok := dl.allowances[owner]
	if !ok {
		inner = make(map[uuid.UUID]*big.Int)
		dl.allowances[owner] = inner
	}
	inner[spender] = new(big.Int).Set(amount)
	return nil
}

// TransferFrom spends the caller's allowance to move units out of from.
func (dl *DebtLedger) TransferFrom(spender, from, to uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return protocol.ErrZeroAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	allowance := dl.Allowance(from, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance %s < %s", protocol.ErrInsufficientAllowance, allowance, amount)
	}
	if err := dl.debit(from, amount); err != nil {
		return err
	}
	dl.credit(to, amount)
	dl.allowances[from][spender] = allowance.Sub(allowance, amount)
	return nil
}

func (dl *DebtLedger) BalanceOf(account uuid.UUID) *big.Int {
	if bal, ok := dl.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (dl *DebtLedger) Allowance(owner, spender uuid.UUID) *big.Int {
	if inner, ok := dl.allowances[owner]; ok {
		if a, ok := inner[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

func (dl *DebtLedger) TotalSupply() *big.Int {
	return new(big.Int).Set(dl.supply)
}

// SumBalances folds every holder's balance. Used by the core's post-apply
// invariant check against TotalSupply.
func (dl *DebtLedger) SumBalances() *big.Int {
	sum := new(big.Int)
	for _, bal := range dl.balances {
		sum.Add(sum, bal)
	}
	return sum
}

func (dl *DebtLedger) credit(account uuid.UUID, amount *big.Int) {
	bal, ok := dl.balances[account]
	if !ok {
		bal = new(big.Int)
		dl.balances[account] = bal
	}
	bal.Add(bal, amount)
}

func (dl *DebtLedger) debit(account uuid.UUID, amount *big.Int) error {
	bal, ok := dl.balances[account]
	if !ok || bal.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have = bal
		}
		return fmt.Errorf("%w: account %s holds %s, needs %s",
			protocol.ErrInsufficientBalance, account, have, amount)
	}
	bal.Sub(bal, amount)
	return nil
}

// HolderSnapshot is one exported balance entry.
type HolderSnapshot struct {
	Account uuid.UUID
	Balance *big.Int
}

// Snapshot exports balances sorted by account for stable persistence.
// Allowances are part of the snapshot too, flattened owner/spender pairs.
func (dl *DebtLedger) Snapshot() ([]HolderSnapshot, []AllowanceSnapshot) {
	holders := make([]HolderSnapshot, 0, len(dl.balances))
	for account, bal := range dl.balances {
		holders = append(holders, HolderSnapshot{Account: account, Balance: new(big.Int).Set(bal)})
	}
	sort.Slice(holders, func(i, j int) bool {
		return bytes.Compare(holders[i].Account[:], holders[j].Account[:]) < 0
	})

	allowances := make([]AllowanceSnapshot, 0)
	for owner, inner := range dl.allowances {
		for spender, amount := range inner {
			if amount.Sign() == 0 {
				continue
			}
			allowances = append(allowances, AllowanceSnapshot{
				Owner:   owner,
				Spender: spender,
				Amount:  new(big.Int).Set(amount),
			})
		}
	}
	sort.Slice(allowances, func(i, j int) bool {
		if c := bytes.Compare(allowances[i].Owner[:], allowances[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(allowances[i].Spender[:], allowances[j].Spender[:]) < 0
	})
	return holders, allowances
}

type AllowanceSnapshot struct {
	Owner   uuid.UUID
	Spender uuid.UUID
	Amount  *big.Int
}

// Restore replaces ledger contents from snapshot data.
func (dl *DebtLedger) Restore(engine uuid.UUID, engineSet bool, holders []HolderSnapshot, allowances []AllowanceSnapshot) {
	dl.engine = engine
	dl.engineSet = engineSet
	dl.balances = make(map[uuid.UUID]*big.Int, len(holders))
	dl.supply = new(big.Int)
	for _, h := range holders {
		dl.balances[h.Account] = new(big.Int).Set(h.Balance)
		dl.supply.Add(dl.supply, h.Balance)
	}
	dl.allowances = make(map[uuid.UUID]map[uuid.UUID]*big.Int)
	for _, a := range allowances {
		inner, ok := dl.allowances[a.Owner]
		if !ok {
			inner = make(map[uuid.UUID]*big.Int)
			dl.allowances[a.Owner] = inner
		}
		inner[a.Spender] = new(big.Int).Set(a.Amount)
	}
}

// CanonicalBytes returns a deterministic serialization for hashing.
func (dl *DebtLedger) CanonicalBytes() []byte {
	holders, allowances := dl.Snapshot()

	buf := make([]byte, 0, 64+len(holders)*34)
	buf = append(buf, byte(dl.currency))
	if dl.engineSet {
		buf = append(buf, 1)
		buf = append(buf, dl.engine[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = protocol.AppendBig(buf, dl.supply)
	for _, h := range holders {
		buf = append(buf, h.Account[:]...)
		buf = protocol.AppendBig(buf, h.Balance)
	}
	for _, a := range allowances {
		buf = append(buf, a.Owner[:]...)
		buf = append(buf, a.Spender[:]...)
		buf = protocol.AppendBig(buf, a.Amount)
	}
	return buf
}
