package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for SpiritLedger.
type Metrics struct {
	// --- Ledger ---
	LedgerMutations *prometheus.CounterVec
	LedgerRetries   prometheus.Counter
	LedgerConflicts prometheus.Counter

	// --- Duels ---
	DuelsCreated      prometheus.Counter
	DuelsSettled      *prometheus.CounterVec
	DuelsSwept        *prometheus.CounterVec
	DuelSweepDuration prometheus.Histogram

	// --- Lottery ---
	LotteryWagers  prometheus.Counter
	LotteryPayouts *prometheus.CounterVec
	LotteryPool    prometheus.Gauge

	// --- Admission ---
	AdmissionDenied   *prometheus.CounterVec
	AdmissionInflight prometheus.Gauge

	// --- Command gateway ---
	CommandsTotal   *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	EventDrops      prometheus.Counter

	// --- Journal persistence ---
	JournalRowsWritten   prometheus.Counter
	JournalBatchSize     prometheus.Histogram
	JournalBatchDuration prometheus.Histogram
	JournalRetries       prometheus.Counter
	JournalDrops         prometheus.Counter

	// --- Scheduler ---
	SchedulerJobRuns     *prometheus.CounterVec
	SchedulerJobDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on the default registry.
func NewMetrics() *Metrics {
	opBuckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

	return &Metrics{
		LedgerMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spirit_ledger_mutations_total",
			Help: "Ledger mutations by operation and outcome",
		}, []string{"op", "outcome"}),

		LedgerRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spirit_ledger_retries_total",
			Help: "Mutation attempts beyond the first",
		}),

		LedgerConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spirit_ledger_conflicts_total",
			Help: "Optimistic write conflicts observed",
		}),

		DuelsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spirit_duels_created_total",
			Help: "Duels created",
		}),

		DuelsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spirit_duels_settled_total",
			Help: "Duels finished (won/drawn/rejected/expired)",
		}, []string{"outcome"}),

		DuelsSwept: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spirit_duels_swept_total",
			Help: "Duels timed out by the sweep, by phase",
		}, []string{"phase"}),

		DuelSweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spirit_duel_sweep_duration_seconds",
			Help:    "Timeout sweep duration",
			Buckets: opBuckets,
		}),

		LotteryWagers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spirit_lottery_wagers_total",
			Help: "Wagers accepted",
		}),

		LotteryPayouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spirit_lottery_payouts_total",
			Help: "Winning wagers paid, by tier",
		}, []string{"tier"}),

		LotteryPool: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spirit_lottery_pool",
			Help: "Current lottery pool value",
		}),

		AdmissionDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spirit_admission_denied_total",
			Help: "Admissions denied (window/slots)",
		}, []string{"kind"}),

		AdmissionInflight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spirit_admission_inflight",
			Help: "Concurrency slots currently held",
		}),

		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spirit_commands_total",
			Help: "Inbound commands by kind and status",
		}, []string{"kind", "status"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spirit_events_published_total",
			Help: "Outbound events published",
		}, []string{"kind"}),

		EventDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spirit_event_drops_total",
			Help: "Outbound events dropped due to a full publish channel",
		}),

		JournalRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spirit_journal_rows_written_total",
			Help: "Journal rows written to Postgres",
		}),

		JournalBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spirit_journal_batch_size",
			Help:    "Rows per journal batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		JournalBatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spirit_journal_batch_duration_seconds",
			Help:    "Journal batch write duration",
			Buckets: opBuckets,
		}),

		JournalRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spirit_journal_retries_total",
			Help: "Journal flush retries",
		}),

		JournalDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spirit_journal_drops_total",
			Help: "Journal entries dropped due to a full intake channel",
		}),

		SchedulerJobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spirit_scheduler_job_runs_total",
			Help: "Scheduler job executions by status",
		}, []string{"job", "status"}),

		SchedulerJobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spirit_scheduler_job_duration_seconds",
			Help:    "Scheduler job duration",
			Buckets: opBuckets,
		}, []string{"job"}),
	}
}
