package op

import (
	"math/big"

	"github.com/google/uuid"
)

type Deposit struct {
	OpID      uuid.UUID
	AccountID uuid.UUID
	Amount    *big.Int // 18-dec collateral units
	Sequence  int64
	Time      int64
}

func (d *Deposit) IdempotencyKey() string { return d.OpID.String() }
func (d *Deposit) OpType() OpType         { return OpTypeDeposit }
func (d *Deposit) Account() *uuid.UUID    { return &d.AccountID }
func (d *Deposit) SourceSequence() int64  { return d.Sequence }
func (d *Deposit) At() int64              { return d.Time }

type Withdraw struct {
	OpID      uuid.UUID
	AccountID uuid.UUID
	Amount    *big.Int
	Sequence  int64
	Time      int64
}

func (w *Withdraw) IdempotencyKey() string { return w.OpID.String() }
func (w *Withdraw) OpType() OpType         { return OpTypeWithdraw }
func (w *Withdraw) Account() *uuid.UUID    { return &w.AccountID }
func (w *Withdraw) SourceSequence() int64  { return w.Sequence }
func (w *Withdraw) At() int64              { return w.Time }
