package ledger

import (
	"math/big"

	"LendLedger/internal/engine"
	"LendLedger/internal/op"
	"LendLedger/internal/protocol"
)

// MovementGenerator turns applied operations into movement batches for the
// event log and projections. Sequence is the global operation sequence the
// core assigned.
type MovementGenerator struct{}

func NewMovementGenerator() *MovementGenerator {
	return &MovementGenerator{}
}

func (g *MovementGenerator) DepositBatch(o *op.Deposit, sequence int64) *Batch {
	b := NewBatch(o.IdempotencyKey(), sequence, o.Time)
	b.Add(MovementCollateralDeposit, nil, o.AccountID, nil, o.Amount)
	return b
}

func (g *MovementGenerator) WithdrawBatch(o *op.Withdraw, sequence int64) *Batch {
	b := NewBatch(o.IdempotencyKey(), sequence, o.Time)
	b.Add(MovementCollateralWithdraw, nil, o.AccountID, nil, o.Amount)
	return b
}

func (g *MovementGenerator) BorrowBatch(o *op.Borrow, c protocol.Currency, sequence int64) *Batch {
	b := NewBatch(o.IdempotencyKey(), sequence, o.Time)
	b.Add(MovementDebtMint, &c, o.AccountID, nil, o.Amount)
	return b
}

// RepayBatch records the clamped amount actually burned, not the submitted
// amount.
func (g *MovementGenerator) RepayBatch(o *op.Repay, c protocol.Currency, repaid *big.Int, sequence int64) *Batch {
	b := NewBatch(o.IdempotencyKey(), sequence, o.Time)
	b.Add(MovementDebtBurn, &c, o.AccountID, nil, repaid)
	return b
}

// LiquidateBatch records both legs: the liquidator's debt units burning and
// the seized collateral leaving the borrower. The seize leg is omitted when
// the seizure truncated to zero (dust debt at a high rate); movements must
// carry a positive amount.
func (g *MovementGenerator) LiquidateBatch(o *op.Liquidate, receipt *engine.LiquidationReceipt, sequence int64) *Batch {
	b := NewBatch(o.IdempotencyKey(), sequence, o.Time)
	c := receipt.Currency
	b.Add(MovementDebtBurn, &c, receipt.Liquidator, nil, receipt.DebtRepaid)
	if receipt.CollateralSeized.Sign() > 0 {
		liquidator := receipt.Liquidator
		b.Add(MovementCollateralSeize, nil, receipt.Borrower, &liquidator, receipt.CollateralSeized)
	}
	return b
}

func (g *MovementGenerator) TransferBatch(o *op.DebtTransfer, sequence int64) *Batch {
	b := NewBatch(o.IdempotencyKey(), sequence, o.Time)
	c := o.Currency
	to := o.ToID
	b.Add(MovementDebtTransfer, &c, o.FromID, &to, o.Amount)
	return b
}

func (g *MovementGenerator) TransferFromBatch(o *op.DebtTransferFrom, sequence int64) *Batch {
	b := NewBatch(o.IdempotencyKey(), sequence, o.Time)
	c := o.Currency
	to := o.ToID
	b.Add(MovementDebtTransfer, &c, o.FromID, &to, o.Amount)
	return b
}
