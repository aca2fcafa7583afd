package relay

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/archive"
	"LendLedger/internal/protocol"
)

// PostgresRecordStore persists archive records in archive.liquidations.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) Insert(ctx context.Context, rec *archive.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archive.liquidations
			(id, borrower, liquidator, debt_repaid, collateral_seized, bonus_seized,
			 currency, origin_block, origin_tx_id, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID, rec.Borrower.String(), rec.Liquidator.String(),
		rec.DebtRepaid.String(), rec.CollateralSeized.String(), rec.BonusSeized.String(),
		rec.Currency.String(), rec.OriginBlock, rec.OriginTxID, rec.ArchivedAt,
	)
	return err
}

// LoadAll returns every stored record ordered by id, ready for
// archive.Restore.
func (s *PostgresRecordStore) LoadAll(ctx context.Context) ([]*archive.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, borrower, liquidator, debt_repaid, collateral_seized, bonus_seized,
		       currency, origin_block, origin_tx_id, archived_at
		FROM archive.liquidations
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*archive.Record
	for rows.Next() {
		var rec archive.Record
		var borrower, liquidator, debt, seized, bonus, currency string
		if err := rows.Scan(
			&rec.ID, &borrower, &liquidator, &debt, &seized, &bonus,
			&currency, &rec.OriginBlock, &rec.OriginTxID, &rec.ArchivedAt,
		); err != nil {
			return nil, err
		}
		if rec.Borrower, err = uuid.Parse(borrower); err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		if rec.Liquidator, err = uuid.Parse(liquidator); err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		if rec.Currency, err = protocol.ParseCurrency(currency); err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		var ok bool
		if rec.DebtRepaid, ok = new(big.Int).SetString(debt, 10); !ok {
			return nil, fmt.Errorf("record %d: bad debt_repaid %q", rec.ID, debt)
		}
		if rec.CollateralSeized, ok = new(big.Int).SetString(seized, 10); !ok {
			return nil, fmt.Errorf("record %d: bad collateral_seized %q", rec.ID, seized)
		}
		if rec.BonusSeized, ok = new(big.Int).SetString(bonus, 10); !ok {
			return nil, fmt.Errorf("record %d: bad bonus_seized %q", rec.ID, bonus)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
