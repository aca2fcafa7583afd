package query

import "github.com/google/uuid"

// PositionResponse is a position with derived risk figures. Amounts render
// as decimal strings (collateral in whole units, fiat in currency units).
type PositionResponse struct {
	Account      uuid.UUID `json:"account"`
	Collateral   string    `json:"collateral"`
	Borrowed     string    `json:"borrowed"`
	Currency     *string   `json:"currency,omitempty"`
	CurrencySet  bool      `json:"currency_set"`
	FiatValue    *string   `json:"fiat_value,omitempty"`
	HealthFactor *string   `json:"health_factor,omitempty"` // Absent when debt-free
	LiqPrice     *string   `json:"liquidation_price,omitempty"`
	Safe         bool      `json:"safe"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// CapacityResponse reports how much an account could still borrow.
type CapacityResponse struct {
	Account      uuid.UUID `json:"account"`
	Currency     string    `json:"currency"`
	MaxBorrow    string    `json:"max_borrow"`
	Remaining    string    `json:"remaining"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// DebtBalanceResponse is one holder's balance in one currency.
type DebtBalanceResponse struct {
	Account      uuid.UUID `json:"account"`
	Currency     string    `json:"currency"`
	Balance      string    `json:"balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// PriceResponse is the last published exchange rate for a currency.
type PriceResponse struct {
	Currency     string `json:"currency"`
	Rate         string `json:"rate"`
	UpdatedAt    int64  `json:"updated_at"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// MovementHistoryEntry is one balance movement for API queries.
type MovementHistoryEntry struct {
	MovementID   string  `json:"movement_id"`
	BatchID      string  `json:"batch_id"`
	OpRef        string  `json:"op_ref"`
	Sequence     int64   `json:"sequence"`
	Kind         string  `json:"kind"`
	Currency     *string `json:"currency,omitempty"`
	Account      string  `json:"account"`
	Counterparty *string `json:"counterparty,omitempty"`
	Amount       string  `json:"amount"`
	Timestamp    int64   `json:"timestamp"`
}

// LiquidationRecordResponse is one archived liquidation.
type LiquidationRecordResponse struct {
	ID               uint64 `json:"id"`
	Borrower         string `json:"borrower"`
	Liquidator       string `json:"liquidator"`
	DebtRepaid       string `json:"debt_repaid"`
	CollateralSeized string `json:"collateral_seized"`
	BonusSeized      string `json:"bonus_seized"`
	Currency         string `json:"currency"`
	OriginBlock      uint64 `json:"origin_block"`
	OriginTxID       string `json:"origin_tx_id"`
	ArchivedAt       int64  `json:"archived_at"`
}

// AccountSummary is one registered account in the enumeration view.
type AccountSummary struct {
	Account     uuid.UUID `json:"account"`
	Collateral  string    `json:"collateral"`
	Borrowed    string    `json:"borrowed"`
	Currency    *string   `json:"currency,omitempty"`
	CurrencySet bool      `json:"currency_set"`
}

// LiquidationStatsResponse aggregates the liquidation archive per currency.
type LiquidationStatsResponse struct {
	Currency         string `json:"currency"`
	Count            int64  `json:"count"`
	TotalDebtRepaid  string `json:"total_debt_repaid"`
	TotalSeized      string `json:"total_collateral_seized"`
	TotalBonusSeized string `json:"total_bonus_seized"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy            bool                 `json:"is_healthy"`
	HashChainBreaks      []int64              `json:"hash_chain_breaks,omitempty"`
	UnbalancedCurrencies []UnbalancedCurrency `json:"unbalanced_currencies,omitempty"`
}

// UnbalancedCurrency is a currency whose projected debt balances do not sum
// to the projected borrowed total.
type UnbalancedCurrency struct {
	Currency  string `json:"currency"`
	Imbalance string `json:"imbalance"`
}
