package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"LendLedger/internal/core"
	"LendLedger/internal/observability"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core's sends into that channel block, so if this worker falls behind
// the core stalls rather than losing an applied operation.
type PersistenceWorker struct {
	writer       *OpLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewOpLogWriter(db, batchSize, flushTimeout),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run starts the persistence loop. It batches incoming outputs and flushes
// either when the batch is full or the flush timeout expires. Blocks until
// ctx is cancelled.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	opBatch := make([]OpRow, 0, pw.batchSize)
	movementBatch := make([]MovementRow, 0, pw.batchSize*2)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(opBatch) > 0 {
				if err := pw.flush(context.Background(), opBatch, movementBatch); err != nil {
					pw.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(opBatch) > 0 {
					if err := pw.flush(context.Background(), opBatch, movementBatch); err != nil {
						pw.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			opBatch = append(opBatch, NewOpRow(output))
			movementBatch = append(movementBatch, NewMovementRows(output.Batch)...)

			if len(opBatch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, opBatch, movementBatch); err != nil {
					pw.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				opBatch = opBatch[:0]
				movementBatch = movementBatch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(opBatch) > 0 {
				if err := pw.flushWithRetry(ctx, opBatch, movementBatch); err != nil {
					pw.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				opBatch = opBatch[:0]
				movementBatch = movementBatch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch; it retries until the write succeeds or the context is cancelled, and
// on shutdown attempts one final flush with a background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, ops []OpRow, movements []MovementRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("ops", len(ops)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				finalErr := pw.flush(context.Background(), ops, movements)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, ops, movements)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, ops []OpRow, movements []MovementRow) error {
	start := time.Now()

	// Ops and movements commit atomically
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteOpBatch(ctx, tx, ops); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_ops").Inc()
		}
		return err
	}

	if err := pw.writer.WriteMovementBatch(ctx, tx, movements); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_movements").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(ops)))
		pw.metrics.PersistOpsWritten.Add(float64(len(ops)))
		pw.metrics.PersistMovementsWritten.Add(float64(len(movements)))
		if len(ops) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(ops[len(ops)-1].Sequence))
		}
	}

	return nil
}

// GetWriter returns the underlying writer.
func (pw *PersistenceWorker) GetWriter() *OpLogWriter {
	return pw.writer
}
