package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/core"
)

// SnapshotManager stores and loads point-in-time state for recovery. A
// snapshot carries positions, debt balances, allowances, oracle rates, the
// pause flag, sequence cursors, the idempotency LRU and the chain tip; warm
// restart loads the latest verified snapshot and replays ops past it.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to ledger.snapshots as JSON. big.Int
// values encode as JSON numbers of arbitrary precision; Postgres stores the
// blob opaquely so no column ever truncates them.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded core.SnapshotState

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO ledger.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash[:], formatVersion, len(data), time.Now().UTC())

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM ledger.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after an integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE ledger.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOpsFrom loads operations from a given sequence for replay.
func (sm *SnapshotManager) LoadOpsFrom(ctx context.Context, fromSequence int64, limit int) ([]OpRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, op_type, idempotency_key, account, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM ledger.ops
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OpRow
	for rows.Next() {
		var o OpRow
		if err := rows.Scan(
			&o.Sequence, &o.OpType, &o.IdempotencyKey, &o.Account,
			&o.Payload, &o.StateHash, &o.PrevHash, &o.Timestamp, &o.SourceSequence,
		); err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}

	return ops, rows.Err()
}

// GetLatestSequence returns the highest sequence in the op log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM ledger.ops
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty op log
	}
	return seq.Int64, nil
}

// LoadRecentIdempotencyKeys returns the newest keys for LRU warming.
func (sm *SnapshotManager) LoadRecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT op_type, idempotency_key FROM ledger.ops
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var opType, key string
		if err := rows.Scan(&opType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, opType+":"+key)
	}
	return keys, rows.Err()
}
