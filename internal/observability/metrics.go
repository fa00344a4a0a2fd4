package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement service.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Settlement domain ---
	Settlements       *prometheus.CounterVec
	SettledVolume     *prometheus.CounterVec
	BidsAccepted      *prometheus.CounterVec
	ProxyRounds       prometheus.Histogram
	RefundsQueued     prometheus.Counter
	RefundsClaimed    prometheus.Counter
	Disputes          *prometheus.CounterVec
	TipsVolume        *prometheus.CounterVec
	MintGrantsIssued  prometheus.Counter
	EscrowLockedTotal prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	ProjectionDrops *prometheus.CounterVec
	PublishDrops    prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Edge ---
	GatewayRequests    *prometheus.CounterVec
	GatewayDuration    *prometheus.HistogramVec
	RateLimitRejected  *prometheus.CounterVec
	NotificationsSent  *prometheus.CounterVec
	NotificationErrors *prometheus.CounterVec
	SlotCacheLookups   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. Registration is
// global, so call it once per process; tests pass a nil *Metrics instead.
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
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_core_ops_applied_total",
			Help: "Operations successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_core_ops_rejected_total",
			Help: "Operations rejected (duplicate, ordering, domain error code)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tm_core_op_apply_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tm_core_sequence",
			Help: "Next global sequence number",
		}),

		Settlements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_settlements_total",
			Help: "Milestone releases by phase and slot mode",
		}, []string{"phase", "mode"}),

		SettledVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_settled_volume_minor_units_total",
			Help: "Value released out of escrow by recipient kind",
		}, []string{"recipient"}),

		BidsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_bids_accepted_total",
			Help: "Accepted bids (manual, proxy, commit, reveal)",
		}, []string{"kind"}),

		ProxyRounds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tm_proxy_rounds",
			Help:    "Auto-bid resolution rounds per bid",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 64, 256, 1024, 4096},
		}),

		RefundsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tm_refunds_queued_total",
			Help: "Outbid deposits enqueued for refund",
		}),

		RefundsClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tm_refunds_claimed_total",
			Help: "Queued refunds claimed",
		}),

		Disputes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_disputes_total",
			Help: "Disputes raised and resolved",
		}, []string{"action"}),

		TipsVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_tips_minor_units_total",
			Help: "Tip volume by rail",
		}, []string{"rail"}),

		MintGrantsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tm_mint_grants_issued_total",
			Help: "Collectible mint grants issued at check-in",
		}),

		EscrowLockedTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tm_escrow_locked_minor_units",
			Help: "Sum of amount_locked across all slots",
		}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tm_ingest_to_apply_seconds",
			Help:    "Receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tm_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tm_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tm_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tm_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tm_publish_drops_total",
			Help: "Records dropped due to full publish channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tm_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_event_sequence_gap_total",
			Help: "Partition sequence gaps",
		}, []string{"event_type"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_event_out_of_order_total",
			Help: "Stale partition sequence rejections",
		}, []string{"event_type"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tm_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tm_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tm_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tm_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tm_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tm_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tm_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tm_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tm_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tm_replay_events_total",
			Help: "Events replayed at startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tm_replay_duration_seconds",
			Help: "Startup replay duration",
		}),

		GatewayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_gateway_requests_total",
			Help: "API requests by method and status code",
		}, []string{"method", "code"}),

		GatewayDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tm_gateway_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),

		RateLimitRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_rate_limit_rejected_total",
			Help: "Submissions rejected by the rate limiter",
		}, []string{"event_type"}),

		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_notifications_sent_total",
			Help: "Notifications published to AMQP",
		}, []string{"queue"}),

		NotificationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_notification_errors_total",
			Help: "Notification publish failures",
		}, []string{"queue"}),

		SlotCacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tm_slot_cache_lookups_total",
			Help: "Slot view cache lookups by result",
		}, []string{"result"}),
	}
}
