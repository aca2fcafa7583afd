package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LendLedger.
type Metrics struct {
	// --- Core processing ---
	CoreOpsApplied  *prometheus.CounterVec
	CoreOpsRejected *prometheus.CounterVec
	CoreOpDuration  *prometheus.HistogramVec
	CoreMovements   *prometheus.CounterVec
	CoreSequence    prometheus.Gauge

	// --- Latency ---
	IngestToApply   *prometheus.HistogramVec
	ApplyToPersist  prometheus.Histogram
	NATSPullLatency *prometheus.HistogramVec
	PersistBatchDur prometheus.Histogram

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	OpSequenceGap         *prometheus.CounterVec
	OpOutOfOrder          *prometheus.CounterVec

	// --- Oracle ---
	RateUpdatesApplied *prometheus.CounterVec
	RateUpdatesStale   *prometheus.CounterVec
	OracleRate         *prometheus.GaugeVec

	// --- Liquidation ---
	LiquidationsCompleted *prometheus.CounterVec
	LiquidationDebtRepaid *prometheus.CounterVec
	LiquidationsRelayed   prometheus.Counter
	RelayErrors           prometheus.Counter
	WatcherCandidates     prometheus.Gauge

	// --- Persistence ---
	PersistOpsWritten       prometheus.Counter
	PersistMovementsWritten prometheus.Counter
	PersistBatchSize        prometheus.Histogram
	PersistErrors           *prometheus.CounterVec
	PersistRetry            prometheus.Counter
	PersistLastSequence     prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayOpsTotal    prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core processing
		CoreOpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_ops_applied_total",
			Help: "Operations successfully applied by core",
		}, []string{"op_type"}),

		CoreOpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_ops_rejected_total",
			Help: "Operations rejected (dedup, gap, validation)",
		}, []string{"op_type", "reason"}),

		CoreOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_core_op_apply_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"op_type"}),

		CoreMovements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_movements_generated_total",
			Help: "Balance movements generated",
		}, []string{"movement_kind"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"op_type"}),

		ApplyToPersist: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		// Channel & backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"op_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		OpSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_op_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		OpOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_op_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Oracle
		RateUpdatesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_rate_updates_applied_total",
			Help: "Exchange rate updates applied",
		}, []string{"currency"}),

		RateUpdatesStale: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_rate_updates_stale_total",
			Help: "Stale rate ticks dropped",
		}, []string{"currency"}),

		OracleRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_oracle_rate",
			Help: "Last published rate (1e8 scale)",
		}, []string{"currency"}),

		// Liquidation
		LiquidationsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_liquidations_completed_total",
			Help: "Completed liquidations",
		}, []string{"currency"}),

		LiquidationDebtRepaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_liquidation_debt_repaid_total",
			Help: "Debt retired through liquidations (whole units)",
		}, []string{"currency"}),

		LiquidationsRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_liquidations_relayed_total",
			Help: "Finalized liquidations delivered to the archive",
		}),

		RelayErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_relay_errors_total",
			Help: "Archive relay failures",
		}),

		WatcherCandidates: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_watcher_candidates",
			Help: "Positions below the liquidation threshold at last scan",
		}),

		// Persistence
		PersistOpsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_ops_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistMovementsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_movements_written_total",
			Help: "Movements written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_size",
			Help:    "Operations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot & replay
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayOpsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_replay_ops_total",
			Help: "Operations replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
