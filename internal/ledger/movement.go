package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

// MovementKind represents the purpose of a movement record
type MovementKind int32

const (
	MovementCollateralDeposit MovementKind = iota
	MovementCollateralWithdraw
	MovementCollateralSeize
	MovementDebtMint
	MovementDebtBurn
	MovementDebtTransfer
)

func (mk MovementKind) String() string {
	switch mk {
	case MovementCollateralDeposit:
		return "collateral_deposit"
	case MovementCollateralWithdraw:
		return "collateral_withdraw"
	case MovementCollateralSeize:
		return "collateral_seize"
	case MovementDebtMint:
		return "debt_mint"
	case MovementDebtBurn:
		return "debt_burn"
	case MovementDebtTransfer:
		return "debt_transfer"
	default:
		return "unknown"
	}
}

// Movement is one balance delta produced by an applied operation. Collateral
// movements carry no currency; debt movements carry the ledger they touched.
// Amounts are always positive; the kind determines direction.
type Movement struct {
	MovementID   uuid.UUID
	BatchID      uuid.UUID // Groups movements of one operation
	OpRef        string    // Idempotency key of source operation
	Sequence     int64     // Global operation sequence
	Kind         MovementKind
	Currency     *protocol.Currency
	Account      uuid.UUID
	Counterparty *uuid.UUID // transfer target, seizure recipient
	Amount       *big.Int
	Timestamp    int64 // Versioned input timestamp (epoch seconds)
}

// Batch is the full set of movements from one applied operation.
type Batch struct {
	BatchID   uuid.UUID
	OpRef     string
	Sequence  int64
	Timestamp int64
	Movements []Movement
}

// Validate ensures the batch is well-formed: positive amounts, consistent
// batch ids, debt movements carrying a valid currency, no self-transfers.
func (b *Batch) Validate() error {
	if len(b.Movements) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}
	for _, m := range b.Movements {
		if m.Amount == nil || m.Amount.Sign() <= 0 {
			return fmt.Errorf("movement %s has non-positive amount", m.MovementID)
		}
		if m.BatchID != b.BatchID {
			return fmt.Errorf("movement %s has mismatched batch_id", m.MovementID)
		}
		if m.Account == uuid.Nil {
			return fmt.Errorf("movement %s has zero account", m.MovementID)
		}
		switch m.Kind {
		case MovementDebtMint, MovementDebtBurn, MovementDebtTransfer:
			if m.Currency == nil || !m.Currency.Valid() {
				return fmt.Errorf("movement %s is a debt movement without a currency", m.MovementID)
			}
		case MovementCollateralDeposit, MovementCollateralWithdraw, MovementCollateralSeize:
			if m.Currency != nil {
				return fmt.Errorf("movement %s is a collateral movement with a currency", m.MovementID)
			}
		default:
			return fmt.Errorf("movement %s has unknown kind %d", m.MovementID, m.Kind)
		}
		if m.Counterparty != nil && *m.Counterparty == m.Account {
			return fmt.Errorf("movement %s transfers to itself", m.MovementID)
		}
	}
	return nil
}

// NewBatch starts a batch for one operation.
func NewBatch(opRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		OpRef:     opRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// Add appends a movement stamped with the batch context.
func (b *Batch) Add(kind MovementKind, currency *protocol.Currency, account uuid.UUID, counterparty *uuid.UUID, amount *big.Int) {
	b.Movements = append(b.Movements, Movement{
		MovementID:   uuid.New(),
		BatchID:      b.BatchID,
		OpRef:        b.OpRef,
		Sequence:     b.Sequence,
		Kind:         kind,
		Currency:     currency,
		Account:      account,
		Counterparty: counterparty,
		Amount:       new(big.Int).Set(amount),
		Timestamp:    b.Timestamp,
	})
}
