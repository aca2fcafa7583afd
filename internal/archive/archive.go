package archive

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

// Record is one archived liquidation. Immutable once appended.
type Record struct {
	ID               uint64
	Borrower         uuid.UUID
	Liquidator       uuid.UUID
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	BonusSeized      *big.Int
	Currency         protocol.Currency
	OriginBlock      uint64
	OriginTxID       string
	ArchivedAt       int64
}

func (r *Record) clone() *Record {
	out := *r
	out.DebtRepaid = new(big.Int).Set(r.DebtRepaid)
	out.CollateralSeized = new(big.Int).Set(r.CollateralSeized)
	out.BonusSeized = new(big.Int).Set(r.BonusSeized)
	return &out
}

// CurrencyStats aggregates all records in one currency. Kept incrementally
// for O(1) reads; always equals the fold over the record sequence.
type CurrencyStats struct {
	Count            uint64
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	BonusSeized      *big.Int
}

func newCurrencyStats() *CurrencyStats {
	return &CurrencyStats{
		DebtRepaid:       new(big.Int),
		CollateralSeized: new(big.Int),
		BonusSeized:      new(big.Int),
	}
}

// Archive is the append-only liquidation history living on the secondary
// ledger. Writes come from the relay (or the owner directly); the relay
// delivers at-least-once, so appends are idempotent on the origin
// transaction id.
type Archive struct {
	owner   uuid.UUID
	relayer uuid.UUID

	records    []*Record
	byTxID     map[string]uint64
	byBorrower map[uuid.UUID][]uint64
	stats      map[protocol.Currency]*CurrencyStats
}

func NewArchive(owner, relayer uuid.UUID) *Archive {
	return &Archive{
		owner:      owner,
		relayer:    relayer,
		byTxID:     make(map[string]uint64),
		byBorrower: make(map[uuid.UUID][]uint64),
		stats:      make(map[protocol.Currency]*CurrencyStats),
	}
}

// SetRelayer rotates the relayer identity. Owner only.
func (a *Archive) SetRelayer(caller, relayer uuid.UUID) error {
	if caller != a.owner {
		return fmt.Errorf("%w: caller %s is not the owner", protocol.ErrUnauthorized, caller)
	}
	a.relayer = relayer
	return nil
}

// Entry is the input to LogLiquidation, mirroring what the relay carries
// over from the primary ledger.
type Entry struct {
	Borrower         uuid.UUID
	Liquidator       uuid.UUID
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	BonusSeized      *big.Int
	Currency         protocol.Currency
	OriginBlock      uint64
	OriginTxID       string
}

// LogLiquidation appends one record stamped with the caller-supplied archive
// time and updates the aggregates. Relayer or owner only. A duplicate origin
// tx id is a no-op returning the id of the record already holding it.
func (a *Archive) LogLiquidation(caller uuid.UUID, entry Entry, at int64) (uint64, error) {
	if caller != a.relayer && caller != a.owner {
		return 0, fmt.Errorf("%w: caller %s is neither relayer nor owner", protocol.ErrUnauthorized, caller)
	}
	if !entry.Currency.Valid() {
		return 0, fmt.Errorf("%w: tag %d", protocol.ErrInvalidCurrency, entry.Currency)
	}
	if entry.Borrower == uuid.Nil || entry.Liquidator == uuid.Nil {
		return 0, fmt.Errorf("%w: zero identity", protocol.ErrInvalidRecord)
	}
	if entry.DebtRepaid == nil || entry.DebtRepaid.Sign() <= 0 {
		return 0, fmt.Errorf("%w: zero debt repaid", protocol.ErrInvalidRecord)
	}
	if entry.CollateralSeized == nil || entry.CollateralSeized.Sign() < 0 ||
		entry.BonusSeized == nil || entry.BonusSeized.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative seizure", protocol.ErrInvalidRecord)
	}
	if entry.OriginTxID == "" {
		return 0, fmt.Errorf("%w: empty origin tx id", protocol.ErrInvalidRecord)
	}
	if id, dup := a.byTxID[entry.OriginTxID]; dup {
		return id, nil
	}
	return a.append(entry, at), nil
}

func (a *Archive) append(entry Entry, archivedAt int64) uint64 {
	id := uint64(len(a.records)) + 1
	rec := &Record{
		ID:               id,
		Borrower:         entry.Borrower,
		Liquidator:       entry.Liquidator,
		DebtRepaid:       new(big.Int).Set(entry.DebtRepaid),
		CollateralSeized: new(big.Int).Set(entry.CollateralSeized),
		BonusSeized:      new(big.Int).Set(entry.BonusSeized),
		Currency:         entry.Currency,
		OriginBlock:      entry.OriginBlock,
		OriginTxID:       entry.OriginTxID,
		ArchivedAt:       archivedAt,
	}
	a.records = append(a.records, rec)
	a.byTxID[rec.OriginTxID] = id
	a.byBorrower[rec.Borrower] = append(a.byBorrower[rec.Borrower], id)

	st, ok := a.stats[rec.Currency]
	if !ok {
		st = newCurrencyStats()
		a.stats[rec.Currency] = st
	}
	st.Count++
	st.DebtRepaid.Add(st.DebtRepaid, rec.DebtRepaid)
	st.CollateralSeized.Add(st.CollateralSeized, rec.CollateralSeized)
	st.BonusSeized.Add(st.BonusSeized, rec.BonusSeized)
	return id
}

// Record returns a copy of one record by id.
func (a *Archive) Record(id uint64) (*Record, bool) {
	if id == 0 || id > uint64(len(a.records)) {
		return nil, false
	}
	return a.records[id-1].clone(), true
}

// Records pages through the sequence in append order.
func (a *Archive) Records(offset, limit int) []*Record {
	if offset < 0 || offset >= len(a.records) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(a.records) {
		end = len(a.records)
	}
	out := make([]*Record, 0, end-offset)
	for _, rec := range a.records[offset:end] {
		out = append(out, rec.clone())
	}
	return out
}

// RecordsByBorrower returns every record for one borrower in append order.
func (a *Archive) RecordsByBorrower(borrower uuid.UUID) []*Record {
	ids := a.byBorrower[borrower]
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.records[id-1].clone())
	}
	return out
}

// BorrowerCount returns how many times a borrower has been liquidated.
func (a *Archive) BorrowerCount(borrower uuid.UUID) uint64 {
	return uint64(len(a.byBorrower[borrower]))
}

// Stats returns the aggregates for one currency.
func (a *Archive) Stats(c protocol.Currency) CurrencyStats {
	st, ok := a.stats[c]
	if !ok {
		empty := newCurrencyStats()
		return *empty
	}
	return CurrencyStats{
		Count:            st.Count,
		DebtRepaid:       new(big.Int).Set(st.DebtRepaid),
		CollateralSeized: new(big.Int).Set(st.CollateralSeized),
		BonusSeized:      new(big.Int).Set(st.BonusSeized),
	}
}

// Len returns the number of archived records.
func (a *Archive) Len() int {
	return len(a.records)
}

// Restore reloads records in id order, rebuilding indexes and aggregates by
// folding. Used on startup from the archive table.
func (a *Archive) Restore(records []*Record) error {
	a.records = nil
	a.byTxID = make(map[string]uint64)
	a.byBorrower = make(map[uuid.UUID][]uint64)
	a.stats = make(map[protocol.Currency]*CurrencyStats)
	for i, rec := range records {
		if rec.ID != uint64(i)+1 {
			return fmt.Errorf("archive restore: record %d out of order (id %d)", i, rec.ID)
		}
		id := a.append(Entry{
			Borrower:         rec.Borrower,
			Liquidator:       rec.Liquidator,
			DebtRepaid:       rec.DebtRepaid,
			CollateralSeized: rec.CollateralSeized,
			BonusSeized:      rec.BonusSeized,
			Currency:         rec.Currency,
			OriginBlock:      rec.OriginBlock,
			OriginTxID:       rec.OriginTxID,
		}, rec.ArchivedAt)
		if id != rec.ID {
			return fmt.Errorf("archive restore: id mismatch %d != %d", id, rec.ID)
		}
	}
	return nil
}
