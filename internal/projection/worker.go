package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
	"LendLedger/internal/op"
	"LendLedger/internal/protocol"
)

// ProjectionWorker updates read-model tables from applied operations. The
// projection channel is non-blocking with drop; anything missed here is
// rebuilt from the op log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	log       zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, log zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Continue: projections are eventually consistent and can be
				// rebuilt from the op log
				pw.log.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).
					Msg("projection update failed")
			}

			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence

	for _, m := range output.Batch.Movements {
		if err := pw.applyMovement(ctx, tx, output, m, seq); err != nil {
			return fmt.Errorf("movement %s: %w", m.Kind, err)
		}
	}

	switch output.Envelope.OpType {
	case op.OpTypeSetCurrency:
		if err := pw.applySetCurrency(ctx, tx, output, seq); err != nil {
			return fmt.Errorf("set currency: %w", err)
		}
	case op.OpTypeRateUpdate, op.OpTypeRateUpdateAll:
		if err := pw.applyRates(ctx, tx, output, seq); err != nil {
			return fmt.Errorf("rates: %w", err)
		}
	case op.OpTypeLiquidate:
		// The burn movement hits the liquidator's balance; the borrower's
		// borrowed figure comes off here.
		if output.Liquidation != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE projections.positions
				SET borrowed = borrowed - $1::numeric, sequence = $2, updated_at = NOW()
				WHERE account = $3
			`, output.Liquidation.DebtRepaid.String(), seq, output.Liquidation.Borrower.String()); err != nil {
				return fmt.Errorf("liquidation borrowed: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (name, sequence)
		VALUES ('main', $1)
		ON CONFLICT (name) DO UPDATE SET sequence = $1
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) applyMovement(ctx context.Context, tx *sql.Tx, output core.CoreOutput, m ledger.Movement, seq int64) error {
	amount := m.Amount.String()
	account := m.Account.String()

	switch m.Kind {
	case ledger.MovementCollateralDeposit:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions (account, collateral, borrowed, sequence)
			VALUES ($1, $2::numeric, 0, $3)
			ON CONFLICT (account)
			DO UPDATE SET collateral = projections.positions.collateral + $2::numeric,
			              sequence = $3, updated_at = NOW()
		`, account, amount, seq)
		return err

	case ledger.MovementCollateralWithdraw, ledger.MovementCollateralSeize:
		// Both pay out through the vault; the position just shrinks.
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET collateral = collateral - $1::numeric, sequence = $2, updated_at = NOW()
			WHERE account = $3
		`, amount, seq, account)
		return err

	case ledger.MovementDebtMint:
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET borrowed = borrowed + $1::numeric, currency = $2, currency_set = TRUE,
			    sequence = $3, updated_at = NOW()
			WHERE account = $4
		`, amount, m.Currency.String(), seq, account); err != nil {
			return err
		}
		return pw.adjustDebtBalance(ctx, tx, account, m.Currency.String(), amount, seq)

	case ledger.MovementDebtBurn:
		if output.Envelope.OpType == op.OpTypeRepay {
			if _, err := tx.ExecContext(ctx, `
				UPDATE projections.positions
				SET borrowed = borrowed - $1::numeric, sequence = $2, updated_at = NOW()
				WHERE account = $3
			`, amount, seq, account); err != nil {
				return err
			}
		}
		return pw.adjustDebtBalance(ctx, tx, account, m.Currency.String(), "-"+amount, seq)

	case ledger.MovementDebtTransfer:
		if err := pw.adjustDebtBalance(ctx, tx, account, m.Currency.String(), "-"+amount, seq); err != nil {
			return err
		}
		return pw.adjustDebtBalance(ctx, tx, m.Counterparty.String(), m.Currency.String(), amount, seq)

	default:
		return fmt.Errorf("unknown movement kind %d", m.Kind)
	}
}

func (pw *ProjectionWorker) adjustDebtBalance(ctx context.Context, tx *sql.Tx, account, currency, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.debt_balances (account, currency, balance, sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account, currency)
		DO UPDATE SET balance = projections.debt_balances.balance + $3::numeric,
		              sequence = $4, updated_at = NOW()
	`, account, currency, delta, seq)
	return err
}

func (pw *ProjectionWorker) applySetCurrency(ctx context.Context, tx *sql.Tx, output core.CoreOutput, seq int64) error {
	var payload struct {
		Currency protocol.Currency
	}
	if err := json.Unmarshal(output.Envelope.Payload, &payload); err != nil {
		return err
	}
	account := output.Envelope.Account.String()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (account, collateral, borrowed, currency, currency_set, sequence)
		VALUES ($1, 0, 0, $2, TRUE, $3)
		ON CONFLICT (account)
		DO UPDATE SET currency = $2, currency_set = TRUE, sequence = $3, updated_at = NOW()
	`, account, payload.Currency.String(), seq)
	return err
}

func (pw *ProjectionWorker) applyRates(ctx context.Context, tx *sql.Tx, output core.CoreOutput, seq int64) error {
	upsert := func(currency protocol.Currency, rate json.Number, at int64) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.prices (currency, rate, updated_at, sequence)
			VALUES ($1, $2::numeric, $3, $4)
			ON CONFLICT (currency)
			DO UPDATE SET rate = $2::numeric, updated_at = $3, sequence = $4
		`, currency.String(), rate.String(), at, seq)
		return err
	}

	if output.Envelope.OpType == op.OpTypeRateUpdate {
		var payload struct {
			Currency protocol.Currency
			Rate     json.Number
			Time     int64
		}
		if err := json.Unmarshal(output.Envelope.Payload, &payload); err != nil {
			return err
		}
		return upsert(payload.Currency, payload.Rate, payload.Time)
	}

	var payload struct {
		Rates map[protocol.Currency]json.Number
		Time  int64
	}
	if err := json.Unmarshal(output.Envelope.Payload, &payload); err != nil {
		return err
	}
	for currency, rate := range payload.Rates {
		if err := upsert(currency, rate, payload.Time); err != nil {
			return err
		}
	}
	return nil
}

// RebuildProjections rebuilds the read-model tables from the op and movement
// log. Borrowed figures need the op type to attribute liquidation burns to
// the borrower, so the movement scan joins ledger.ops.
func RebuildProjections(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.debt_balances`,
		`DELETE FROM projections.watermark WHERE name = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Collateral: deposits minus withdrawals and seizures.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.positions (account, collateral, borrowed, sequence)
		SELECT
			account,
			SUM(CASE WHEN kind = 'collateral_deposit' THEN amount ELSE -amount END),
			0,
			MAX(sequence)
		FROM ledger.movements
		WHERE kind IN ('collateral_deposit', 'collateral_withdraw', 'collateral_seize')
		GROUP BY account
	`); err != nil {
		return fmt.Errorf("rebuild collateral: %w", err)
	}

	// Borrowed: mints minus repay burns on the borrower, minus liquidation
	// burns attributed to the liquidated account from the op row.
	if _, err := db.ExecContext(ctx, `
		UPDATE projections.positions p
		SET borrowed = COALESCE(sub.total, 0),
		    currency = sub.currency,
		    currency_set = sub.currency IS NOT NULL
		FROM (
			SELECT acct, SUM(delta) AS total, MAX(currency) AS currency
			FROM (
				SELECT m.account AS acct, m.amount AS delta, m.currency
				FROM ledger.movements m
				WHERE m.kind = 'debt_mint'
				UNION ALL
				SELECT m.account, -m.amount, NULL
				FROM ledger.movements m
				JOIN ledger.ops o ON o.sequence = m.sequence
				WHERE m.kind = 'debt_burn' AND o.op_type = 'Repay'
				UNION ALL
				SELECT o.account, -m.amount, NULL
				FROM ledger.movements m
				JOIN ledger.ops o ON o.sequence = m.sequence
				WHERE m.kind = 'debt_burn' AND o.op_type = 'Liquidate'
			) legs
			GROUP BY acct
		) sub
		WHERE p.account = sub.acct
	`); err != nil {
		return fmt.Errorf("rebuild borrowed: %w", err)
	}

	// Debt balances: mints and transfer credits minus burns and transfer
	// debits per holder.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.debt_balances (account, currency, balance, sequence)
		SELECT acct, currency, SUM(delta), MAX(seq)
		FROM (
			SELECT account AS acct, currency, amount AS delta, sequence AS seq
			FROM ledger.movements WHERE kind = 'debt_mint'
			UNION ALL
			SELECT account, currency, -amount, sequence
			FROM ledger.movements WHERE kind = 'debt_burn'
			UNION ALL
			SELECT account, currency, -amount, sequence
			FROM ledger.movements WHERE kind = 'debt_transfer'
			UNION ALL
			SELECT counterparty, currency, amount, sequence
			FROM ledger.movements WHERE kind = 'debt_transfer'
		) legs
		GROUP BY acct, currency
	`); err != nil {
		return fmt.Errorf("rebuild debt balances: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
