package protocol

import "errors"

// Business-rule failures. Callers match these with errors.Is; the HTTP edge
// maps them to status codes. A rejected operation leaves no state change.
var (
	ErrZeroAmount                = errors.New("amount must be positive")
	ErrInsufficientCollateral    = errors.New("insufficient collateral")
	ErrWithdrawWouldLiquidate    = errors.New("withdrawal would leave position unsafe")
	ErrCurrencyLockedWhileInDebt = errors.New("currency locked while debt outstanding")
	ErrNoCurrencySet             = errors.New("no borrow currency set")
	ErrBorrowLimitExceeded       = errors.New("borrow limit exceeded")
	ErrNoBorrowedDebt            = errors.New("no borrowed debt")
	ErrPositionHealthy           = errors.New("position is healthy")
	ErrInsufficientDebtBalance   = errors.New("insufficient debt balance")

	ErrInvalidPrice = errors.New("invalid price")
	ErrStalePrice   = errors.New("stale price")

	ErrUnauthorized          = errors.New("unauthorized")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrEngineAlreadySet      = errors.New("engine already set")

	ErrInvalidRecord   = errors.New("invalid liquidation record")
	ErrInvalidCurrency = errors.New("invalid currency")

	ErrPaused = errors.New("engine paused")
)
