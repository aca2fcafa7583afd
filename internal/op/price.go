package op

import (
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

type RateUpdate struct {
	OpID     uuid.UUID
	Caller   uuid.UUID
	Currency protocol.Currency
	Rate     *big.Int // 8-dec
	Sequence int64
	Time     int64
}

func (r *RateUpdate) IdempotencyKey() string { return r.OpID.String() }
func (r *RateUpdate) OpType() OpType         { return OpTypeRateUpdate }
func (r *RateUpdate) Account() *uuid.UUID    { return nil } // Global operation
func (r *RateUpdate) SourceSequence() int64  { return r.Sequence }
func (r *RateUpdate) At() int64              { return r.Time }

type RateUpdateAll struct {
	OpID     uuid.UUID
	Caller   uuid.UUID
	Rates    map[protocol.Currency]*big.Int
	Sequence int64
	Time     int64
}

func (r *RateUpdateAll) IdempotencyKey() string { return r.OpID.String() }
func (r *RateUpdateAll) OpType() OpType         { return OpTypeRateUpdateAll }
func (r *RateUpdateAll) Account() *uuid.UUID    { return nil }
func (r *RateUpdateAll) SourceSequence() int64  { return r.Sequence }
func (r *RateUpdateAll) At() int64              { return r.Time }
