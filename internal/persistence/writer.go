package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
)

// execer is satisfied by both *sql.DB and *sql.Tx so the worker can wrap a
// flush in one transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OpLogWriter writes applied operations and their balance movements to
// Postgres using multi-row INSERTs. Amounts travel as decimal strings into
// NUMERIC columns; int64 cannot hold 18-decimal balances.
type OpLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// OpRow represents a row in ledger.ops.
type OpRow struct {
	Sequence       int64
	OpType         string
	IdempotencyKey string
	Account        *string
	Payload        []byte // JSON-encoded operation
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// MovementRow represents a row in ledger.movements.
type MovementRow struct {
	MovementID   string
	BatchID      string
	OpRef        string
	Sequence     int64
	Kind         string
	Currency     *string // nil for collateral legs
	Account      string
	Counterparty *string
	Amount       string // decimal string, 1e18 scale
	Timestamp    int64
}

func NewOpLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *OpLogWriter {
	return &OpLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// NewOpRow converts a core output envelope into a persistable row.
func NewOpRow(output core.CoreOutput) OpRow {
	env := output.Envelope
	var account *string
	if env.Account != nil {
		s := env.Account.String()
		account = &s
	}
	return OpRow{
		Sequence:       env.Sequence,
		OpType:         env.OpType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Account:        account,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
}

// NewMovementRows converts a movement batch into persistable rows.
func NewMovementRows(batch *ledger.Batch) []MovementRow {
	rows := make([]MovementRow, 0, len(batch.Movements))
	for _, m := range batch.Movements {
		var currency *string
		if m.Currency != nil {
			s := m.Currency.String()
			currency = &s
		}
		var counterparty *string
		if m.Counterparty != nil {
			s := m.Counterparty.String()
			counterparty = &s
		}
		rows = append(rows, MovementRow{
			MovementID:   m.MovementID.String(),
			BatchID:      m.BatchID.String(),
			OpRef:        m.OpRef,
			Sequence:     m.Sequence,
			Kind:         m.Kind.String(),
			Currency:     currency,
			Account:      m.Account.String(),
			Counterparty: counterparty,
			Amount:       m.Amount.String(),
			Timestamp:    m.Timestamp,
		})
	}
	return rows
}

// WriteOpBatch writes a batch of operations to ledger.ops.
func (w *OpLogWriter) WriteOpBatch(ctx context.Context, ex execer, ops []OpRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.ops
		(sequence, op_type, idempotency_key, account, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*9)

	for i, o := range ops {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			o.Sequence, o.OpType, o.IdempotencyKey, o.Account,
			o.Payload, o.StateHash, o.PrevHash, o.Timestamp, o.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteMovementBatch writes a batch of movements to ledger.movements.
func (w *OpLogWriter) WriteMovementBatch(ctx context.Context, ex execer, movements []MovementRow) error {
	if len(movements) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.movements
		(movement_id, batch_id, op_ref, sequence, kind, currency, account, counterparty, amount, timestamp)
		VALUES `

	values := make([]string, 0, len(movements))
	args := make([]interface{}, 0, len(movements)*10)

	for i, m := range movements {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			m.MovementID, m.BatchID, m.OpRef, m.Sequence,
			m.Kind, m.Currency, m.Account, m.Counterparty,
			m.Amount, m.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (movement_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
