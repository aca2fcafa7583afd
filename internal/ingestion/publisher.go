package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/op"
)

// LiquidationSubject is where finalized liquidations are published; the
// archive relay consumes this subject.
const LiquidationSubject = "lend.ledger.liquidations"

// OutboundPublisher publishes processed operations to NATS for downstream
// consumers. Outbound messages go out only after persistence is confirmed.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableOp
	log       zerolog.Logger
}

// PublishableOp is a processed operation ready for outbound publishing.
type PublishableOp struct {
	Sequence       int64           `json:"sequence"`
	OpType         string          `json:"op_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Account        *string         `json:"account,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      []byte          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`

	// Liquidation is set only for liquidation ops; it additionally goes out
	// on LiquidationSubject for the archive relay.
	Liquidation *op.LiquidationFinalized `json:"-"`
}

// LiquidationWire is the JSON shape of a finalized liquidation on
// LiquidationSubject. Amounts travel as decimal strings.
type LiquidationWire struct {
	Borrower         string `json:"borrower"`
	Liquidator       string `json:"liquidator"`
	DebtRepaid       string `json:"debt_repaid"`
	CollateralSeized string `json:"collateral_seized"`
	BonusSeized      string `json:"bonus_seized"`
	Currency         string `json:"currency"`
	OriginBlock      uint64 `json:"origin_block"`
	OriginTxID       string `json:"origin_tx_id"`
	Timestamp        int64  `json:"timestamp"`
}

// NewLiquidationWire converts a finalized liquidation into its wire shape.
func NewLiquidationWire(l *op.LiquidationFinalized) LiquidationWire {
	return LiquidationWire{
		Borrower:         l.Borrower.String(),
		Liquidator:       l.Liquidator.String(),
		DebtRepaid:       l.DebtRepaid.String(),
		CollateralSeized: l.CollateralSeized.String(),
		BonusSeized:      l.BonusSeized.String(),
		Currency:         l.Currency.String(),
		OriginBlock:      l.OriginBlock,
		OriginTxID:       l.OriginTxID,
		Timestamp:        l.Time,
	}
}

// Amounts returns the wire amounts parsed back into big integers.
func (w LiquidationWire) Amounts() (debt, seized, bonus *big.Int, err error) {
	debt, ok := new(big.Int).SetString(w.DebtRepaid, 10)
	if !ok {
		return nil, nil, nil, fmt.Errorf("bad debt_repaid %q", w.DebtRepaid)
	}
	seized, ok = new(big.Int).SetString(w.CollateralSeized, 10)
	if !ok {
		return nil, nil, nil, fmt.Errorf("bad collateral_seized %q", w.CollateralSeized)
	}
	bonus, ok = new(big.Int).SetString(w.BonusSeized, 10)
	if !ok {
		return nil, nil, nil, fmt.Errorf("bad bonus_seized %q", w.BonusSeized)
	}
	return debt, seized, bonus, nil
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableOp, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the outbound publisher loop.
func (p *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, out); err != nil {
				// Non-fatal: downstream consumers can query the op log directly
				p.log.Warn().Err(err).Int64("sequence", out.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *OutboundPublisher) publish(ctx context.Context, out PublishableOp) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal op: %w", err)
	}

	subject := fmt.Sprintf("lend.ledger.events.%s", out.OpType)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return err
	}

	if out.Liquidation != nil {
		wire, err := json.Marshal(NewLiquidationWire(out.Liquidation))
		if err != nil {
			return fmt.Errorf("marshal liquidation: %w", err)
		}
		if _, err := p.js.Publish(ctx, LiquidationSubject, wire); err != nil {
			return fmt.Errorf("publish liquidation: %w", err)
		}
	}
	return nil
}

// EnsureOutboundStream creates the outbound events stream, covering both the
// applied-op feed and the liquidation relay subject.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LEND_LEDGER_EVENTS",
		Subjects:  []string{"lend.ledger.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "LEND_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
