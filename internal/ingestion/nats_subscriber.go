package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// operations into the core via opChan. Each subject maps to one op type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	opChan    chan<- RawOp
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawOp is a parsed-but-untyped message from NATS, ready for the shell to
// validate and convert into a typed op.Op before sending to the core.
type RawOp struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after successful processing
	NakFunc   func() // NAK on failure (redelivered)
}

// SubjectConfig maps NATS subjects to op types.
type SubjectConfig struct {
	Subject      string
	OpType       string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Each op type
// gets its own durable consumer so replays stay independent.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "lend.ops.collateral.deposit.>", OpType: "Deposit", ConsumerName: "ledger-deposits", StreamName: "LEND_COLLATERAL"},
		{Subject: "lend.ops.collateral.withdraw.>", OpType: "Withdraw", ConsumerName: "ledger-withdrawals", StreamName: "LEND_COLLATERAL"},
		{Subject: "lend.ops.account.currency.>", OpType: "SetCurrency", ConsumerName: "ledger-currency", StreamName: "LEND_ACCOUNTS"},
		{Subject: "lend.ops.credit.borrow.>", OpType: "Borrow", ConsumerName: "ledger-borrows", StreamName: "LEND_CREDIT"},
		{Subject: "lend.ops.credit.repay.>", OpType: "Repay", ConsumerName: "ledger-repays", StreamName: "LEND_CREDIT"},
		{Subject: "lend.ops.liquidation.>", OpType: "Liquidate", ConsumerName: "ledger-liquidations", StreamName: "LEND_LIQUIDATIONS"},
		{Subject: "lend.ops.debt.transfer.>", OpType: "DebtTransfer", ConsumerName: "ledger-debt-transfer", StreamName: "LEND_DEBT"},
		{Subject: "lend.ops.debt.approve.>", OpType: "DebtApprove", ConsumerName: "ledger-debt-approve", StreamName: "LEND_DEBT"},
		{Subject: "lend.ops.debt.transferfrom.>", OpType: "DebtTransferFrom", ConsumerName: "ledger-debt-tf", StreamName: "LEND_DEBT"},
		{Subject: "lend.rates.update.>", OpType: "RateUpdate", ConsumerName: "ledger-rates", StreamName: "LEND_RATES"},
		{Subject: "lend.rates.all.>", OpType: "RateUpdateAll", ConsumerName: "ledger-rates-all", StreamName: "LEND_RATES"},
		{Subject: "lend.ops.admin.pause.>", OpType: "PauseSet", ConsumerName: "ledger-admin", StreamName: "LEND_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, opChan chan<- RawOp, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:     js,
		opChan: opChan,
		log:    log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawOp{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.opChan <- raw:
				// Queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "LEND_COLLATERAL",
			Subjects:  []string{"lend.ops.collateral.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_ACCOUNTS",
			Subjects:  []string{"lend.ops.account.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_CREDIT",
			Subjects:  []string{"lend.ops.credit.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_LIQUIDATIONS",
			Subjects:  []string{"lend.ops.liquidation.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_DEBT",
			Subjects:  []string{"lend.ops.debt.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_RATES",
			Subjects:  []string{"lend.rates.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_ADMIN",
			Subjects:  []string{"lend.ops.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
