package op

import (
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

type Liquidate struct {
	OpID         uuid.UUID
	LiquidatorID uuid.UUID
	AccountID    uuid.UUID // borrower under liquidation
	Sequence     int64
	Time         int64
}

func (l *Liquidate) IdempotencyKey() string { return l.OpID.String() }
func (l *Liquidate) OpType() OpType         { return OpTypeLiquidate }
func (l *Liquidate) Account() *uuid.UUID    { return &l.AccountID }
func (l *Liquidate) SourceSequence() int64  { return l.Sequence }
func (l *Liquidate) At() int64              { return l.Time }

// LiquidationFinalized is the outbound message the core publishes after a
// liquidation persists. The relay carries it to the archive; OriginTxID is
// the liquidation op's idempotency key, so redelivery stays idempotent.
type LiquidationFinalized struct {
	Borrower         uuid.UUID
	Liquidator       uuid.UUID
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	BonusSeized      *big.Int
	Currency         protocol.Currency
	OriginBlock      uint64 // core sequence of the liquidation
	OriginTxID       string
	Time             int64
}
