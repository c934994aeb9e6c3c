// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Completion metrics
	CompletionsTotal   *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	PhaseDuration      *prometheus.HistogramVec
	ProposalsRejected  prometheus.Counter
	ProposalsExpired   prometheus.Counter

	// Ledger metrics
	LedgerAppends       *prometheus.CounterVec
	LedgerAppendRetries prometheus.Counter
	LedgerMissing       prometheus.Gauge

	// Payment metrics
	PaymentCharges   *prometheus.CounterVec
	PaymentReversals *prometheus.CounterVec

	// Rollback metrics
	RollbacksTotal      *prometheus.CounterVec
	RollbackStepsFailed prometheus.Counter
	ManualInterventions prometheus.Counter
	ActiveRollbacks     prometheus.Gauge

	// Validation metrics
	ValidationIssues  *prometheus.CounterVec
	DriftCorrections  prometheus.Counter
	CorrectionBatches *prometheus.CounterVec

	// Notification metrics
	NotificationsPublished prometheus.Counter
	NotificationsDropped   prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bookswap"
	}

	return &Metrics{
		// Completion metrics
		CompletionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "runs_total",
			Help:      "Total number of completion runs by kind and outcome",
		}, []string{"kind", "outcome"}),
		CompletionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "duration_seconds",
			Help:      "End-to-end completion run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		PhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "phase_duration_seconds",
			Help:      "Completion phase duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		ProposalsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "proposals_rejected_total",
			Help:      "Total number of proposals rejected",
		}),
		ProposalsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "proposals_expired_total",
			Help:      "Total number of proposals expired by the sweeper",
		}),

		// Ledger metrics
		LedgerAppends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Total number of ledger append attempts by outcome",
		}, []string{"event_type", "outcome"}),
		LedgerAppendRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "append_retries_total",
			Help:      "Total number of ledger append retries",
		}),
		LedgerMissing: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "missing_events",
			Help:      "Completed runs without a confirmed ledger event",
		}),

		// Payment metrics
		PaymentCharges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "charges_total",
			Help:      "Total number of gateway charges by outcome",
		}, []string{"outcome"}),
		PaymentReversals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "reversals_total",
			Help:      "Total number of gateway reversals by outcome",
		}, []string{"outcome"}),

		// Rollback metrics
		RollbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollback",
			Name:      "runs_total",
			Help:      "Total number of rollback runs by outcome",
		}, []string{"outcome"}),
		RollbackStepsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollback",
			Name:      "steps_failed_total",
			Help:      "Total number of compensation steps that failed",
		}),
		ManualInterventions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollback",
			Name:      "manual_interventions_total",
			Help:      "Total number of runs escalated to an operator",
		}),
		ActiveRollbacks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rollback",
			Name:      "active_operations",
			Help:      "Rollback operations currently held in the registry",
		}),

		// Validation metrics
		ValidationIssues: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "issues_total",
			Help:      "Total number of validation issues by phase and severity",
		}, []string{"phase", "severity"}),
		DriftCorrections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "drift_corrections_total",
			Help:      "Total number of entities corrected after drift",
		}),
		CorrectionBatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "correction_batches_total",
			Help:      "Total number of correction batches by outcome",
		}, []string{"outcome"}),

		// Notification metrics
		NotificationsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "published_total",
			Help:      "Total number of notifications published",
		}),
		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Total number of notifications dropped after publish failure",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
