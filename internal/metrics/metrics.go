package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine worker counters, partitioned by worker name; submission outcomes
// partitioned by result.

var (
	WorkerIterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "engine",
		Name:      "worker_iterations_total",
		Help:      "Total worker loop iterations",
	}, []string{"worker"})

	WorkerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "engine",
		Name:      "worker_errors_total",
		Help:      "Total worker iterations that failed or panicked",
	}, []string{"worker"})

	RecordsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "engine",
		Name:      "records_processed_total",
		Help:      "Total record submissions attempted, by worker",
	}, []string{"worker"})

	SubmissionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "engine",
		Name:      "submission_outcomes_total",
		Help:      "Total submission outcomes (confirmed, unconfirmed, rejected, failed)",
	}, []string{"result"})

	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "engine",
		Name:      "verifications_total",
		Help:      "Total timeout-verification resolutions, by result",
	}, []string{"result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reconciler",
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Current reconciliation job queue depth",
	})

	SubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reconciler",
		Subsystem: "recorder",
		Name:      "submit_duration_seconds",
		Help:      "End-to-end record submission duration including receipt wait",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
	})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total chain RPC calls, by method and status",
	}, []string{"method", "status"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls delayed by the client-side rate limiter",
	})

	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts delivered, by channel and alert type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by the cooldown window",
	}, []string{"channel", "type"})
)
