package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a queried account has no projected row.
var ErrNotFound = errors.New("not found")

// QueryService serves read-only views over the projection tables and the
// liquidation archive. Projections lag the core by design; every response
// carries as_of_sequence so callers can reason about freshness.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPosition returns an account's position with fiat value, health factor
// and liquidation price derived at query time from the projected rate.
func (qs *QueryService) GetPosition(
	ctx context.Context,
	account uuid.UUID,
) (*PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		collateralStr, borrowedStr string
		currency                   sql.NullString
		currencySet                bool
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT collateral, borrowed, currency, currency_set
		FROM projections.positions
		WHERE account = $1
	`, account).Scan(&collateralStr, &borrowedStr, &currency, &currencySet)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	collateral, err := parseNumeric(collateralStr)
	if err != nil {
		return nil, err
	}
	borrowed, err := parseNumeric(borrowedStr)
	if err != nil {
		return nil, err
	}

	resp := &PositionResponse{
		Account:      account,
		Collateral:   renderAmount(collateral),
		Borrowed:     renderAmount(borrowed),
		CurrencySet:  currencySet,
		AsOfSequence: asOfSeq,
	}
	if currency.Valid {
		resp.Currency = &currency.String
	}

	// Risk figures need a rate; without a projected price for the borrow
	// currency only the raw balances are reported.
	var rate *big.Int
	if currency.Valid {
		rate, err = qs.getProjectedRate(ctx, currency.String)
		if err != nil {
			return nil, err
		}
	}
	view := deriveRisk(collateral, borrowed, rate)
	resp.FiatValue = view.fiatValue
	resp.HealthFactor = view.healthFactor
	resp.LiqPrice = view.liqPrice
	resp.Safe = view.safe
	return resp, nil
}

// GetBorrowCapacity returns the 75%-LTV ceiling and the remaining headroom
// for an account's position in its set currency.
func (qs *QueryService) GetBorrowCapacity(
	ctx context.Context,
	account uuid.UUID,
) (*CapacityResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		collateralStr, borrowedStr string
		currency                   sql.NullString
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT collateral, borrowed, currency
		FROM projections.positions
		WHERE account = $1 AND currency_set = TRUE
	`, account).Scan(&collateralStr, &borrowedStr, &currency)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	collateral, err := parseNumeric(collateralStr)
	if err != nil {
		return nil, err
	}
	borrowed, err := parseNumeric(borrowedStr)
	if err != nil {
		return nil, err
	}
	rate, err := qs.getProjectedRate(ctx, currency.String)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, ErrNotFound
	}

	view := deriveRisk(collateral, borrowed, rate)
	remaining := new(big.Int).Sub(view.maxBorrow, borrowed)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return &CapacityResponse{
		Account:      account,
		Currency:     currency.String,
		MaxBorrow:    renderAmount(view.maxBorrow),
		Remaining:    renderAmount(remaining),
		AsOfSequence: asOfSeq,
	}, nil
}

// GetDebtBalances returns all non-zero debt-token balances held by an
// account, across currencies.
func (qs *QueryService) GetDebtBalances(
	ctx context.Context,
	account uuid.UUID,
) ([]DebtBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT currency, balance
		FROM projections.debt_balances
		WHERE account = $1 AND balance > 0
		ORDER BY currency
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []DebtBalanceResponse
	for rows.Next() {
		var (
			b          DebtBalanceResponse
			balanceStr string
		)
		b.Account = account
		b.AsOfSequence = asOfSeq
		if err := rows.Scan(&b.Currency, &balanceStr); err != nil {
			return nil, err
		}
		balance, err := parseNumeric(balanceStr)
		if err != nil {
			return nil, err
		}
		b.Balance = renderAmount(balance)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// GetPrices returns the latest projected exchange rate per currency.
func (qs *QueryService) GetPrices(ctx context.Context) ([]PriceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT currency, rate, updated_at
		FROM projections.prices
		ORDER BY currency
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []PriceResponse
	for rows.Next() {
		var (
			p       PriceResponse
			rateStr string
		)
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(&p.Currency, &rateStr, &p.UpdatedAt); err != nil {
			return nil, err
		}
		rate, err := parseNumeric(rateStr)
		if err != nil {
			return nil, err
		}
		p.Rate = renderRate(rate)
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// GetMovementHistory returns balance movements touching an account, newest
// first, with cursor-based pagination on sequence.
func (qs *QueryService) GetMovementHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]MovementHistoryEntry, error) {
	query := `
		SELECT movement_id, batch_id, op_ref, sequence, kind,
		       currency, account, counterparty, amount, timestamp
		FROM ledger.movements
		WHERE (account = $1 OR counterparty = $1)
	`
	args := []interface{}{account}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, movement_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []MovementHistoryEntry
	for rows.Next() {
		var (
			e            MovementHistoryEntry
			currency     sql.NullString
			counterparty sql.NullString
			amountStr    string
		)
		if err := rows.Scan(
			&e.MovementID, &e.BatchID, &e.OpRef, &e.Sequence, &e.Kind,
			&currency, &e.Account, &counterparty, &amountStr, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if currency.Valid {
			e.Currency = &currency.String
		}
		if counterparty.Valid {
			e.Counterparty = &counterparty.String
		}
		amount, err := parseNumeric(amountStr)
		if err != nil {
			return nil, err
		}
		e.Amount = renderAmount(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetLiquidationHistory returns archived liquidations against a borrower,
// newest first.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	borrower uuid.UUID,
	limit int,
) ([]LiquidationRecordResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT id, borrower, liquidator, debt_repaid, collateral_seized,
		       bonus_seized, currency, origin_block, origin_tx_id, archived_at
		FROM archive.liquidations
		WHERE borrower = $1
		ORDER BY id DESC
		LIMIT $2
	`, borrower, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLiquidations(rows)
}

func scanLiquidations(rows *sql.Rows) ([]LiquidationRecordResponse, error) {
	var records []LiquidationRecordResponse
	for rows.Next() {
		var r LiquidationRecordResponse
		var debtStr, seizedStr, bonusStr string
		if err := rows.Scan(
			&r.ID, &r.Borrower, &r.Liquidator, &debtStr, &seizedStr,
			&bonusStr, &r.Currency, &r.OriginBlock, &r.OriginTxID, &r.ArchivedAt,
		); err != nil {
			return nil, err
		}
		debt, err := parseNumeric(debtStr)
		if err != nil {
			return nil, err
		}
		seized, err := parseNumeric(seizedStr)
		if err != nil {
			return nil, err
		}
		bonus, err := parseNumeric(bonusStr)
		if err != nil {
			return nil, err
		}
		r.DebtRepaid = renderAmount(debt)
		r.CollateralSeized = renderAmount(seized)
		r.BonusSeized = renderAmount(bonus)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListAccounts enumerates registered accounts in registration order, with
// cursor-based pagination on account sequence.
func (qs *QueryService) ListAccounts(
	ctx context.Context,
	limit int,
	afterSequence *int64,
) ([]AccountSummary, error) {
	query := `
		SELECT account, collateral, borrowed, currency, currency_set
		FROM projections.positions
	`
	var args []interface{}
	argIdx := 1

	if afterSequence != nil {
		query += fmt.Sprintf(" WHERE sequence > $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence, account"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []AccountSummary
	for rows.Next() {
		var a AccountSummary
		var collateralStr, borrowedStr string
		var currency sql.NullString
		if err := rows.Scan(&a.Account, &collateralStr, &borrowedStr, &currency, &a.CurrencySet); err != nil {
			return nil, err
		}
		collateral, err := parseNumeric(collateralStr)
		if err != nil {
			return nil, err
		}
		borrowed, err := parseNumeric(borrowedStr)
		if err != nil {
			return nil, err
		}
		a.Collateral = renderAmount(collateral)
		a.Borrowed = renderAmount(borrowed)
		if currency.Valid {
			a.Currency = &currency.String
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListLiquidations pages over the full liquidation archive, newest first.
func (qs *QueryService) ListLiquidations(
	ctx context.Context,
	limit int,
	afterID *uint64,
) ([]LiquidationRecordResponse, error) {
	query := `
		SELECT id, borrower, liquidator, debt_repaid, collateral_seized,
		       bonus_seized, currency, origin_block, origin_tx_id, archived_at
		FROM archive.liquidations
	`
	var args []interface{}
	argIdx := 1

	if afterID != nil {
		query += fmt.Sprintf(" WHERE id < $%d", argIdx)
		args = append(args, *afterID)
		argIdx++
	}

	query += " ORDER BY id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLiquidations(rows)
}

// LiquidationStats folds the archive into per-currency totals.
func (qs *QueryService) LiquidationStats(ctx context.Context) ([]LiquidationStatsResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT currency, COUNT(*), SUM(debt_repaid), SUM(collateral_seized), SUM(bonus_seized)
		FROM archive.liquidations
		GROUP BY currency
		ORDER BY currency
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []LiquidationStatsResponse
	for rows.Next() {
		var s LiquidationStatsResponse
		var debtStr, seizedStr, bonusStr string
		if err := rows.Scan(&s.Currency, &s.Count, &debtStr, &seizedStr, &bonusStr); err != nil {
			return nil, err
		}
		debt, err := parseNumeric(debtStr)
		if err != nil {
			return nil, err
		}
		seized, err := parseNumeric(seizedStr)
		if err != nil {
			return nil, err
		}
		bonus, err := parseNumeric(bonusStr)
		if err != nil {
			return nil, err
		}
		s.TotalDebtRepaid = renderAmount(debt)
		s.TotalSeized = renderAmount(seized)
		s.TotalBonusSeized = renderAmount(bonus)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash-chain continuity over the op log and the
// supply invariant over the projections: per currency, the sum of debt
// balances must equal the sum of borrowed across positions.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM ledger.ops o1
		LEFT JOIN ledger.ops o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.sequence > 0 AND o1.prev_hash != COALESCE(o2.state_hash, o1.prev_hash)
		ORDER BY o1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	supplyRows, err := qs.db.QueryContext(ctx, `
		SELECT currency, SUM(delta) AS imbalance FROM (
			SELECT currency, balance AS delta
			FROM projections.debt_balances
			UNION ALL
			SELECT currency, -borrowed AS delta
			FROM projections.positions
			WHERE currency IS NOT NULL AND borrowed > 0
		) deltas
		GROUP BY currency
		HAVING SUM(delta) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer supplyRows.Close()

	for supplyRows.Next() {
		var (
			currency     string
			imbalanceStr string
		)
		if err := supplyRows.Scan(&currency, &imbalanceStr); err != nil {
			return nil, err
		}
		imbalance, err := parseNumeric(imbalanceStr)
		if err != nil {
			return nil, err
		}
		report.UnbalancedCurrencies = append(report.UnbalancedCurrencies, UnbalancedCurrency{
			Currency:  currency,
			Imbalance: renderAmount(imbalance),
		})
	}
	if err := supplyRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedCurrencies) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT sequence FROM projections.watermark WHERE name = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// getProjectedRate returns the latest rate for a currency, or nil when no
// price has been projected yet.
func (qs *QueryService) getProjectedRate(ctx context.Context, currency string) (*big.Int, error) {
	var rateStr string
	err := qs.db.QueryRowContext(ctx, `
		SELECT rate FROM projections.prices WHERE currency = $1
	`, currency).Scan(&rateStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseNumeric(rateStr)
}

// parseNumeric parses a NUMERIC(78,0) column value scanned as a string.
func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed numeric %q", s)
	}
	return v, nil
}
