package op

import (
	"time"

	"github.com/google/uuid"
)

// OpType discriminator for operation payloads
type OpType int32

const (
	OpTypeUnknown OpType = iota
	OpTypeDeposit
	OpTypeWithdraw
	OpTypeSetCurrency
	OpTypeBorrow
	OpTypeRepay
	OpTypeLiquidate
	OpTypeDebtTransfer
	OpTypeDebtApprove
	OpTypeDebtTransferFrom
	OpTypeRateUpdate
	OpTypeRateUpdateAll
	OpTypePauseSet
)

// Envelope wraps every applied operation in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Operation type discriminator
	OpType OpType

	// Account context (nullable for global operations like rate updates)
	Account *uuid.UUID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded operation-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

// Op is the interface all operation payloads must implement
type Op interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// OpType returns the discriminator
	OpType() OpType

	// Account returns the account context (nil for global operations)
	Account() *uuid.UUID

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// At returns the versioned input time (unix seconds)
	At() int64
}

func (ot OpType) String() string {
	switch ot {
	case OpTypeDeposit:
		return "Deposit"
	case OpTypeWithdraw:
		return "Withdraw"
	case OpTypeSetCurrency:
		return "SetCurrency"
	case OpTypeBorrow:
		return "Borrow"
	case OpTypeRepay:
		return "Repay"
	case OpTypeLiquidate:
		return "Liquidate"
	case OpTypeDebtTransfer:
		return "DebtTransfer"
	case OpTypeDebtApprove:
		return "DebtApprove"
	case OpTypeDebtTransferFrom:
		return "DebtTransferFrom"
	case OpTypeRateUpdate:
		return "RateUpdate"
	case OpTypeRateUpdateAll:
		return "RateUpdateAll"
	case OpTypePauseSet:
		return "PauseSet"
	default:
		return "Unknown"
	}
}
