package op

import (
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

type SetCurrency struct {
	OpID      uuid.UUID
	AccountID uuid.UUID
	Currency  protocol.Currency
	Sequence  int64
	Time      int64
}

func (s *SetCurrency) IdempotencyKey() string { return s.OpID.String() }
func (s *SetCurrency) OpType() OpType         { return OpTypeSetCurrency }
func (s *SetCurrency) Account() *uuid.UUID    { return &s.AccountID }
func (s *SetCurrency) SourceSequence() int64  { return s.Sequence }
func (s *SetCurrency) At() int64              { return s.Time }

type Borrow struct {
	OpID      uuid.UUID
	AccountID uuid.UUID
	Amount    *big.Int // 18-dec debt units
	// Currency nil means borrow in the position's previously set currency.
	Currency *protocol.Currency
	Sequence int64
	Time     int64
}

func (b *Borrow) IdempotencyKey() string { return b.OpID.String() }
func (b *Borrow) OpType() OpType         { return OpTypeBorrow }
func (b *Borrow) Account() *uuid.UUID    { return &b.AccountID }
func (b *Borrow) SourceSequence() int64  { return b.Sequence }
func (b *Borrow) At() int64              { return b.Time }

type Repay struct {
	OpID      uuid.UUID
	AccountID uuid.UUID
	Amount    *big.Int
	Sequence  int64
	Time      int64
}

func (r *Repay) IdempotencyKey() string { return r.OpID.String() }
func (r *Repay) OpType() OpType         { return OpTypeRepay }
func (r *Repay) Account() *uuid.UUID    { return &r.AccountID }
func (r *Repay) SourceSequence() int64  { return r.Sequence }
func (r *Repay) At() int64              { return r.Time }
