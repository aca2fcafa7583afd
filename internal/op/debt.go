package op

import (
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

type DebtTransfer struct {
	OpID     uuid.UUID
	FromID   uuid.UUID
	ToID     uuid.UUID
	Currency protocol.Currency
	Amount   *big.Int
	Sequence int64
	Time     int64
}

func (t *DebtTransfer) IdempotencyKey() string { return t.OpID.String() }
func (t *DebtTransfer) OpType() OpType         { return OpTypeDebtTransfer }
func (t *DebtTransfer) Account() *uuid.UUID    { return &t.FromID }
func (t *DebtTransfer) SourceSequence() int64  { return t.Sequence }
func (t *DebtTransfer) At() int64              { return t.Time }

type DebtApprove struct {
	OpID      uuid.UUID
	OwnerID   uuid.UUID
	SpenderID uuid.UUID
	Currency  protocol.Currency
	Amount    *big.Int
	Sequence  int64
	Time      int64
}

func (a *DebtApprove) IdempotencyKey() string { return a.OpID.String() }
func (a *DebtApprove) OpType() OpType         { return OpTypeDebtApprove }
func (a *DebtApprove) Account() *uuid.UUID    { return &a.OwnerID }
func (a *DebtApprove) SourceSequence() int64  { return a.Sequence }
func (a *DebtApprove) At() int64              { return a.Time }

type DebtTransferFrom struct {
	OpID      uuid.UUID
	SpenderID uuid.UUID
	FromID    uuid.UUID
	ToID      uuid.UUID
	Currency  protocol.Currency
	Amount    *big.Int
	Sequence  int64
	Time      int64
}

func (t *DebtTransferFrom) IdempotencyKey() string { return t.OpID.String() }
func (t *DebtTransferFrom) OpType() OpType         { return OpTypeDebtTransferFrom }
func (t *DebtTransferFrom) Account() *uuid.UUID    { return &t.SpenderID }
func (t *DebtTransferFrom) SourceSequence() int64  { return t.Sequence }
func (t *DebtTransferFrom) At() int64              { return t.Time }
