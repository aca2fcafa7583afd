package watcher

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/observability"
	"LendLedger/internal/op"
	"LendLedger/internal/protocol"
)

// SubmitFunc injects a liquidation op into the core's input path.
type SubmitFunc func(ctx context.Context, o op.Op) error

// Config drives the liquidation watcher. Execution requires a liquidator
// account and a submit path; without them the watcher only reports.
type Config struct {
	Interval     time.Duration
	Threshold    *big.Int // 1e18-scaled health factor floor, Precision when nil
	LiquidatorID uuid.UUID
	Execute      bool
}

// Watcher polls projected positions for unsafe health factors. Candidates
// are exported as a gauge; with execution enabled it submits a Liquidate op
// per candidate and lets the core arbitrate.
type Watcher struct {
	db        *sql.DB
	submit    SubmitFunc
	cfg       Config
	threshold *big.Int
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewWatcher(db *sql.DB, submit SubmitFunc, cfg Config, metrics *observability.Metrics, log zerolog.Logger) *Watcher {
	threshold := cfg.Threshold
	if threshold == nil {
		threshold = protocol.Precision
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	return &Watcher{
		db:        db,
		submit:    submit,
		cfg:       cfg,
		threshold: threshold,
		metrics:   metrics,
		log:       log.With().Str("component", "watcher").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.cfg.Interval).
		Bool("execute", w.cfg.Execute).
		Msg("liquidation watcher started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("liquidation watcher stopped")
			return
		case <-ticker.C:
			if err := w.pollOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("poll cycle failed")
			}
		}
	}
}

type candidate struct {
	account      uuid.UUID
	healthFactor *big.Int
}

func (w *Watcher) pollOnce(ctx context.Context) error {
	candidates, err := w.scan(ctx)
	if err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.WatcherCandidates.Set(float64(len(candidates)))
	}

	for _, c := range candidates {
		w.log.Warn().
			Str("borrower", c.account.String()).
			Str("health_factor", c.healthFactor.String()).
			Msg("position below threshold")

		if !w.cfg.Execute || w.submit == nil {
			continue
		}
		if err := w.execute(ctx, c.account); err != nil {
			w.log.Error().Err(err).Str("borrower", c.account.String()).Msg("liquidation submit failed")
		}
	}
	return nil
}

// scan walks indebted positions joined to the latest projected rate and
// keeps those whose health factor sits below the threshold. Positions
// whose currency has no projected price yet are skipped.
func (w *Watcher) scan(ctx context.Context) ([]candidate, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT p.account, p.collateral, p.borrowed, pr.rate
		FROM projections.positions p
		JOIN projections.prices pr ON pr.currency = p.currency
		WHERE p.borrowed > 0
	`)
	if err != nil {
		return nil, fmt.Errorf("scan positions: %w", err)
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		var account uuid.UUID
		var collateralStr, borrowedStr, rateStr string
		if err := rows.Scan(&account, &collateralStr, &borrowedStr, &rateStr); err != nil {
			return nil, err
		}
		collateral, ok := new(big.Int).SetString(collateralStr, 10)
		if !ok {
			return nil, fmt.Errorf("malformed collateral %q", collateralStr)
		}
		borrowed, ok := new(big.Int).SetString(borrowedStr, 10)
		if !ok {
			return nil, fmt.Errorf("malformed borrowed %q", borrowedStr)
		}
		rate, ok := new(big.Int).SetString(rateStr, 10)
		if !ok {
			return nil, fmt.Errorf("malformed rate %q", rateStr)
		}

		if hf := evaluate(collateral, borrowed, rate, w.threshold); hf != nil {
			candidates = append(candidates, candidate{account: account, healthFactor: hf})
		}
	}
	return candidates, rows.Err()
}

// evaluate returns the health factor when it sits below threshold, nil for
// a safe or debt-free position. The raw 1e18-scaled value is compared, not
// a float truncation of it.
func evaluate(collateral, borrowed, rate, threshold *big.Int) *big.Int {
	if borrowed.Sign() == 0 {
		return nil
	}
	fiat := protocol.FiatValue(collateral, rate)
	hf := protocol.HealthFactor(fiat, borrowed)
	if hf.Cmp(threshold) >= 0 {
		return nil
	}
	return hf
}

// buildLiquidateOp stamps a Liquidate op. Op times are unix seconds; the
// core feeds them into the oracle's staleness bound.
func buildLiquidateOp(liquidator, borrower uuid.UUID, seq int64, now time.Time) *op.Liquidate {
	return &op.Liquidate{
		OpID:         uuid.New(),
		LiquidatorID: liquidator,
		AccountID:    borrower,
		Sequence:     seq,
		Time:         now.Unix(),
	}
}

// execute submits a Liquidate op for the borrower. The source sequence is
// the next one after the borrower's last persisted op; a lost race simply
// gets dropped by sequence validation and retried next cycle.
func (w *Watcher) execute(ctx context.Context, borrower uuid.UUID) error {
	var nextSeq int64
	err := w.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(source_sequence), -1) + 1
		FROM ledger.ops
		WHERE account = $1
	`, borrower).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	liq := buildLiquidateOp(w.cfg.LiquidatorID, borrower, nextSeq, time.Now())
	if err := w.submit(ctx, liq); err != nil {
		return err
	}
	w.log.Info().
		Str("borrower", borrower.String()).
		Int64("sequence", nextSeq).
		Str("op_id", liq.OpID.String()).
		Msg("liquidation submitted")
	return nil
}
