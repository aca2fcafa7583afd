package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/op"
	"LendLedger/internal/protocol"
)

// ParseRawOp converts a RawOp (JSON bytes + op type string) into a typed
// op.Op. The ingestion shell validates and parses before anything reaches
// the deterministic core.
func ParseRawOp(raw RawOp, opType string) (op.Op, error) {
	switch opType {
	case "Deposit":
		return parseDeposit(raw.Data)
	case "Withdraw":
		return parseWithdraw(raw.Data)
	case "SetCurrency":
		return parseSetCurrency(raw.Data)
	case "Borrow":
		return parseBorrow(raw.Data)
	case "Repay":
		return parseRepay(raw.Data)
	case "Liquidate":
		return parseLiquidate(raw.Data)
	case "DebtTransfer":
		return parseDebtTransfer(raw.Data)
	case "DebtApprove":
		return parseDebtApprove(raw.Data)
	case "DebtTransferFrom":
		return parseDebtTransferFrom(raw.Data)
	case "RateUpdate":
		return parseRateUpdate(raw.Data)
	case "RateUpdateAll":
		return parseRateUpdateAll(raw.Data)
	case "PauseSet":
		return parsePauseSet(raw.Data)
	default:
		return nil, fmt.Errorf("unknown op type: %s", opType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts and rates
// travel as decimal strings; int64 cannot hold 18-decimal balances.

func parseAmount(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: not a decimal integer: %q", field, s)
	}
	return v, nil
}

type collateralOpJSON struct {
	OpID      string `json:"op_id"`
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseDeposit(data []byte) (*op.Deposit, error) {
	var j collateralOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	amount, err := parseAmount(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &op.Deposit{
		OpID:      opID,
		AccountID: accountID,
		Amount:    amount,
		Sequence:  j.Sequence,
		Time:      j.Timestamp,
	}, nil
}

func parseWithdraw(data []byte) (*op.Withdraw, error) {
	var j collateralOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	amount, err := parseAmount(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &op.Withdraw{
		OpID:      opID,
		AccountID: accountID,
		Amount:    amount,
		Sequence:  j.Sequence,
		Time:      j.Timestamp,
	}, nil
}

type setCurrencyJSON struct {
	OpID      string `json:"op_id"`
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseSetCurrency(data []byte) (*op.SetCurrency, error) {
	var j setCurrencyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetCurrency: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	currency, err := protocol.ParseCurrency(j.Currency)
	if err != nil {
		return nil, fmt.Errorf("parse currency: %w", err)
	}
	return &op.SetCurrency{
		OpID:      opID,
		AccountID: accountID,
		Currency:  currency,
		Sequence:  j.Sequence,
		Time:      j.Timestamp,
	}, nil
}

type borrowJSON struct {
	OpID      string `json:"op_id"`
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency,omitempty"` // empty: use the set currency
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseBorrow(data []byte) (*op.Borrow, error) {
	var j borrowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Borrow: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	amount, err := parseAmount(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	var currency *protocol.Currency
	if j.Currency != "" {
		c, err := protocol.ParseCurrency(j.Currency)
		if err != nil {
			return nil, fmt.Errorf("parse currency: %w", err)
		}
		currency = &c
	}
	return &op.Borrow{
		OpID:      opID,
		AccountID: accountID,
		Amount:    amount,
		Currency:  currency,
		Sequence:  j.Sequence,
		Time:      j.Timestamp,
	}, nil
}

func parseRepay(data []byte) (*op.Repay, error) {
	var j collateralOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Repay: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	amount, err := parseAmount(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &op.Repay{
		OpID:      opID,
		AccountID: accountID,
		Amount:    amount,
		Sequence:  j.Sequence,
		Time:      j.Timestamp,
	}, nil
}

type liquidateJSON struct {
	OpID         string `json:"op_id"`
	LiquidatorID string `json:"liquidator_id"`
	AccountID    string `json:"account_id"`
	Sequence     int64  `json:"sequence"`
	Timestamp    int64  `json:"timestamp"`
}

func parseLiquidate(data []byte) (*op.Liquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	liquidatorID, err := uuid.Parse(j.LiquidatorID)
	if err != nil {
		return nil, fmt.Errorf("parse liquidator_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	return &op.Liquidate{
		OpID:         opID,
		LiquidatorID: liquidatorID,
		AccountID:    accountID,
		Sequence:     j.Sequence,
		Time:         j.Timestamp,
	}, nil
}

type debtTransferJSON struct {
	OpID      string `json:"op_id"`
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseDebtTransfer(data []byte) (*op.DebtTransfer, error) {
	var j debtTransferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DebtTransfer: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	fromID, err := uuid.Parse(j.FromID)
	if err != nil {
		return nil, fmt.Errorf("parse from_id: %w", err)
	}
	toID, err := uuid.Parse(j.ToID)
	if err != nil {
		return nil, fmt.Errorf("parse to_id: %w", err)
	}
	currency, err := protocol.ParseCurrency(j.Currency)
	if err != nil {
		return nil, fmt.Errorf("parse currency: %w", err)
	}
	amount, err := parseAmount(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &op.DebtTransfer{
		OpID:     opID,
		FromID:   fromID,
		ToID:     toID,
		Currency: currency,
		Amount:   amount,
		Sequence: j.Sequence,
		Time:     j.Timestamp,
	}, nil
}

type debtApproveJSON struct {
	OpID      string `json:"op_id"`
	OwnerID   string `json:"owner_id"`
	SpenderID string `json:"spender_id"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseDebtApprove(data []byte) (*op.DebtApprove, error) {
	var j debtApproveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DebtApprove: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	spenderID, err := uuid.Parse(j.SpenderID)
	if err != nil {
		return nil, fmt.Errorf("parse spender_id: %w", err)
	}
	currency, err := protocol.ParseCurrency(j.Currency)
	if err != nil {
		return nil, fmt.Errorf("parse currency: %w", err)
	}
	amount, err := parseAmount(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &op.DebtApprove{
		OpID:      opID,
		OwnerID:   ownerID,
		SpenderID: spenderID,
		Currency:  currency,
		Amount:    amount,
		Sequence:  j.Sequence,
		Time:      j.Timestamp,
	}, nil
}

type debtTransferFromJSON struct {
	OpID      string `json:"op_id"`
	SpenderID string `json:"spender_id"`
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseDebtTransferFrom(data []byte) (*op.DebtTransferFrom, error) {
	var j debtTransferFromJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DebtTransferFrom: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	spenderID, err := uuid.Parse(j.SpenderID)
	if err != nil {
		return nil, fmt.Errorf("parse spender_id: %w", err)
	}
	fromID, err := uuid.Parse(j.FromID)
	if err != nil {
		return nil, fmt.Errorf("parse from_id: %w", err)
	}
	toID, err := uuid.Parse(j.ToID)
	if err != nil {
		return nil, fmt.Errorf("parse to_id: %w", err)
	}
	currency, err := protocol.ParseCurrency(j.Currency)
	if err != nil {
		return nil, fmt.Errorf("parse currency: %w", err)
	}
	amount, err := parseAmount(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &op.DebtTransferFrom{
		OpID:      opID,
		SpenderID: spenderID,
		FromID:    fromID,
		ToID:      toID,
		Currency:  currency,
		Amount:    amount,
		Sequence:  j.Sequence,
		Time:      j.Timestamp,
	}, nil
}

type rateUpdateJSON struct {
	OpID      string `json:"op_id"`
	CallerID  string `json:"caller_id"`
	Currency  string `json:"currency"`
	Rate      string `json:"rate"` // 1e8 scale
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseRateUpdate(data []byte) (*op.RateUpdate, error) {
	var j rateUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RateUpdate: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	callerID, err := uuid.Parse(j.CallerID)
	if err != nil {
		return nil, fmt.Errorf("parse caller_id: %w", err)
	}
	currency, err := protocol.ParseCurrency(j.Currency)
	if err != nil {
		return nil, fmt.Errorf("parse currency: %w", err)
	}
	rate, err := parseAmount(j.Rate, "rate")
	if err != nil {
		return nil, err
	}
	return &op.RateUpdate{
		OpID:     opID,
		Caller:   callerID,
		Currency: currency,
		Rate:     rate,
		Sequence: j.Sequence,
		Time:     j.Timestamp,
	}, nil
}

type rateUpdateAllJSON struct {
	OpID      string            `json:"op_id"`
	CallerID  string            `json:"caller_id"`
	Rates     map[string]string `json:"rates"` // currency -> rate, 1e8 scale
	Sequence  int64             `json:"sequence"`
	Timestamp int64             `json:"timestamp"`
}

func parseRateUpdateAll(data []byte) (*op.RateUpdateAll, error) {
	var j rateUpdateAllJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RateUpdateAll: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	callerID, err := uuid.Parse(j.CallerID)
	if err != nil {
		return nil, fmt.Errorf("parse caller_id: %w", err)
	}
	rates := make(map[protocol.Currency]*big.Int, len(j.Rates))
	for name, rateStr := range j.Rates {
		currency, err := protocol.ParseCurrency(name)
		if err != nil {
			return nil, fmt.Errorf("parse currency %q: %w", name, err)
		}
		rate, err := parseAmount(rateStr, "rate")
		if err != nil {
			return nil, err
		}
		rates[currency] = rate
	}
	return &op.RateUpdateAll{
		OpID:     opID,
		Caller:   callerID,
		Rates:    rates,
		Sequence: j.Sequence,
		Time:     j.Timestamp,
	}, nil
}

type pauseSetJSON struct {
	OpID      string `json:"op_id"`
	CallerID  string `json:"caller_id"`
	Paused    bool   `json:"paused"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parsePauseSet(data []byte) (*op.PauseSet, error) {
	var j pauseSetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PauseSet: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	callerID, err := uuid.Parse(j.CallerID)
	if err != nil {
		return nil, fmt.Errorf("parse caller_id: %w", err)
	}
	return &op.PauseSet{
		OpID:     opID,
		Caller:   callerID,
		Paused:   j.Paused,
		Sequence: j.Sequence,
		Time:     j.Timestamp,
	}, nil
}
