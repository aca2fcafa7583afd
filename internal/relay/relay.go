package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/archive"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"
	"LendLedger/internal/protocol"
)

// RecordStore persists archive records durably. The relay writes each newly
// archived record through it and rebuilds the in-memory archive from it on
// start.
type RecordStore interface {
	Insert(ctx context.Context, rec *archive.Record) error
	LoadAll(ctx context.Context) ([]*archive.Record, error)
}

// Relay consumes finalized liquidations off NATS and feeds them into the
// archive. Redeliveries are harmless: the archive dedupes on origin tx id.
type Relay struct {
	js       jetstream.JetStream
	archive  *archive.Archive
	relayer  uuid.UUID
	store    RecordStore
	metrics  *observability.Metrics
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

type Config struct {
	JetStream jetstream.JetStream
	Archive   *archive.Archive
	Relayer   uuid.UUID
	Store     RecordStore
	Metrics   *observability.Metrics
	Log       zerolog.Logger
}

func NewRelay(cfg Config) *Relay {
	return &Relay{
		js:      cfg.JetStream,
		archive: cfg.Archive,
		relayer: cfg.Relayer,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		log:     cfg.Log,
	}
}

// Restore rebuilds the in-memory archive from the durable store. Call before
// Start so redelivered messages dedupe against prior runs.
func (r *Relay) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load archive records: %w", err)
	}
	if err := r.archive.Restore(records); err != nil {
		return fmt.Errorf("restore archive: %w", err)
	}
	r.log.Info().Int("records", len(records)).Msg("archive restored")
	return nil
}

// Start creates the durable consumer and begins relaying.
func (r *Relay) Start(ctx context.Context) error {
	consumer, err := r.js.CreateOrUpdateConsumer(ctx, "LEND_LEDGER_EVENTS", jetstream.ConsumerConfig{
		Durable:       "archive-relay",
		FilterSubject: ingestion.LiquidationSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    -1, // The archive dedupes, delivery can retry forever
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create relay consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := r.handle(ctx, msg.Data()); err != nil {
			if errors.Is(err, protocol.ErrInvalidRecord) || errors.Is(err, protocol.ErrInvalidCurrency) {
				// Malformed payloads never become valid; drop them.
				r.log.Error().Err(err).Msg("dropping malformed liquidation record")
				msg.Ack()
				return
			}
			if r.metrics != nil {
				r.metrics.RelayErrors.Inc()
			}
			r.log.Warn().Err(err).Msg("relay failed, will retry")
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume relay: %w", err)
	}
	r.consumer = cc
	r.log.Info().Str("subject", ingestion.LiquidationSubject).Msg("archive relay started")
	return nil
}

// Stop halts the consumer.
func (r *Relay) Stop() {
	if r.consumer != nil {
		r.consumer.Stop()
	}
}

// handle archives one wire message. Duplicates return the existing record id
// and write nothing.
func (r *Relay) handle(ctx context.Context, data []byte) error {
	var wire ingestion.LiquidationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidRecord, err)
	}

	entry, err := entryFromWire(wire)
	if err != nil {
		return err
	}

	before := r.archive.Len()
	id, err := r.archive.LogLiquidation(r.relayer, entry, wire.Timestamp)
	if err != nil {
		return err
	}
	if r.archive.Len() == before {
		// Duplicate origin tx id; already stored.
		return nil
	}

	rec, ok := r.archive.Record(id)
	if !ok {
		return fmt.Errorf("archived record %d not found", id)
	}
	if r.store != nil {
		if err := r.store.Insert(ctx, rec); err != nil {
			return fmt.Errorf("store record %d: %w", id, err)
		}
	}

	if r.metrics != nil {
		r.metrics.LiquidationsRelayed.Inc()
	}
	r.log.Info().
		Uint64("id", id).
		Str("borrower", rec.Borrower.String()).
		Str("origin_tx_id", rec.OriginTxID).
		Msg("liquidation archived")
	return nil
}

func entryFromWire(wire ingestion.LiquidationWire) (archive.Entry, error) {
	borrower, err := uuid.Parse(wire.Borrower)
	if err != nil {
		return archive.Entry{}, fmt.Errorf("%w: borrower: %v", protocol.ErrInvalidRecord, err)
	}
	liquidator, err := uuid.Parse(wire.Liquidator)
	if err != nil {
		return archive.Entry{}, fmt.Errorf("%w: liquidator: %v", protocol.ErrInvalidRecord, err)
	}
	currency, err := protocol.ParseCurrency(wire.Currency)
	if err != nil {
		return archive.Entry{}, err
	}
	debt, seized, bonus, err := wire.Amounts()
	if err != nil {
		return archive.Entry{}, fmt.Errorf("%w: %v", protocol.ErrInvalidRecord, err)
	}
	return archive.Entry{
		Borrower:         borrower,
		Liquidator:       liquidator,
		DebtRepaid:       debt,
		CollateralSeized: seized,
		BonusSeized:      bonus,
		Currency:         currency,
		OriginBlock:      wire.OriginBlock,
		OriginTxID:       wire.OriginTxID,
	}, nil
}
