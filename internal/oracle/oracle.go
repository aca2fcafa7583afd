package oracle

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

// PriceSnapshot is the stored rate for one currency: an 8-decimal rate and
// the unix second of its last update.
type PriceSnapshot struct {
	Rate      *big.Int
	UpdatedAt int64
}

// PriceOracle holds one rate per currency, writable only by the registered
// updater identity. It never reads the wall clock; update and staleness
// timestamps come from the operation being applied, so replay stays
// deterministic.
type PriceOracle struct {
	updater   uuid.UUID
	snapshots map[protocol.Currency]*PriceSnapshot
}

func NewPriceOracle(updater uuid.UUID) *PriceOracle {
	return &PriceOracle{
		updater:   updater,
		snapshots: make(map[protocol.Currency]*PriceSnapshot),
	}
}

// UpdateRate sets the rate for one currency. Rejects non-updater callers and
// non-positive rates; on success the rate and timestamp change atomically.
func (o *PriceOracle) UpdateRate(caller uuid.UUID, c protocol.Currency, rate *big.Int, at int64) error {
	if caller != o.updater {
		return fmt.Errorf("%w: caller %s is not the price updater", protocol.ErrUnauthorized, caller)
	}
	if !c.Valid() {
		return fmt.Errorf("%w: tag %d", protocol.ErrInvalidCurrency, c)
	}
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("%w: rate must be positive", protocol.ErrInvalidPrice)
	}
	o.snapshots[c] = &PriceSnapshot{Rate: new(big.Int).Set(rate), UpdatedAt: at}
	return nil
}

// UpdateAllRates sets every currency's rate in one step. All rates are
// validated before any is applied; a bad entry leaves the oracle untouched.
func (o *PriceOracle) UpdateAllRates(caller uuid.UUID, rates map[protocol.Currency]*big.Int, at int64) error {
	if caller != o.updater {
		return fmt.Errorf("%w: caller %s is not the price updater", protocol.ErrUnauthorized, caller)
	}
	for _, c := range protocol.Currencies() {
		rate, ok := rates[c]
		if !ok {
			return fmt.Errorf("%w: missing rate for %s", protocol.ErrInvalidPrice, c)
		}
		if rate == nil || rate.Sign() <= 0 {
			return fmt.Errorf("%w: rate for %s must be positive", protocol.ErrInvalidPrice, c)
		}
	}
	for c := range rates {
		if !c.Valid() {
			return fmt.Errorf("%w: tag %d", protocol.ErrInvalidCurrency, c)
		}
	}
	for _, c := range protocol.Currencies() {
		o.snapshots[c] = &PriceSnapshot{Rate: new(big.Int).Set(rates[c]), UpdatedAt: at}
	}
	return nil
}

// Rate returns the current rate for c. Fails InvalidPrice when no rate has
// been published yet.
func (o *PriceOracle) Rate(c protocol.Currency) (*big.Int, error) {
	snap, ok := o.snapshots[c]
	if !ok {
		return nil, fmt.Errorf("%w: no rate published for %s", protocol.ErrInvalidPrice, c)
	}
	return new(big.Int).Set(snap.Rate), nil
}

// RateMaxAge is the staleness-bounded read: fails StalePrice when the rate
// is older than maxAge seconds relative to now. maxAge <= 0 disables the
// bound. Staleness is the one failure callers are expected to retry, after
// a fresh rate lands.
func (o *PriceOracle) RateMaxAge(c protocol.Currency, maxAge, now int64) (*big.Int, error) {
	snap, ok := o.snapshots[c]
	if !ok {
		return nil, fmt.Errorf("%w: no rate published for %s", protocol.ErrInvalidPrice, c)
	}
	if maxAge > 0 && now-snap.UpdatedAt > maxAge {
		return nil, fmt.Errorf("%w: %s rate is %ds old, max %ds",
			protocol.ErrStalePrice, c, now-snap.UpdatedAt, maxAge)
	}
	return new(big.Int).Set(snap.Rate), nil
}

// Snapshot returns the stored prices keyed by currency, for state export.
func (o *PriceOracle) Snapshot() map[protocol.Currency]PriceSnapshot {
	out := make(map[protocol.Currency]PriceSnapshot, len(o.snapshots))
	for c, snap := range o.snapshots {
		out[c] = PriceSnapshot{Rate: new(big.Int).Set(snap.Rate), UpdatedAt: snap.UpdatedAt}
	}
	return out
}

// Restore replaces the oracle's contents from a snapshot.
func (o *PriceOracle) Restore(snaps map[protocol.Currency]PriceSnapshot) {
	o.snapshots = make(map[protocol.Currency]*PriceSnapshot, len(snaps))
	for c, snap := range snaps {
		o.snapshots[c] = &PriceSnapshot{Rate: new(big.Int).Set(snap.Rate), UpdatedAt: snap.UpdatedAt}
	}
}

// CanonicalBytes returns a deterministic serialization for hashing,
// currencies in tag order.
func (o *PriceOracle) CanonicalBytes() []byte {
	tags := make([]int, 0, len(o.snapshots))
	for c := range o.snapshots {
		tags = append(tags, int(c))
	}
	sort.Ints(tags)

	buf := make([]byte, 0, 64)
	for _, tag := range tags {
		snap := o.snapshots[protocol.Currency(tag)]
		buf = append(buf, byte(tag))
		buf = protocol.AppendBig(buf, snap.Rate)
		buf = protocol.AppendInt64LE(buf, snap.UpdatedAt)
	}
	return buf
}
