// Package metrics holds the Prometheus collectors for the file lifecycle and
// the job pipeline, and the /metrics handler that exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stratadrive"

var (
	// LifecycleOps counts engine operations by name and outcome.
	LifecycleOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "operations_total",
		Help:      "File lifecycle operations by operation and result.",
	}, []string{"operation", "result"})

	// ArtifactsDropped counts worker outputs discarded because the file moved
	// on to newer content.
	ArtifactsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "artifacts_dropped_total",
		Help:      "Derived artifacts discarded for superseded or missing content.",
	})

	// ShareTokenCollisions counts regenerated share tokens.
	ShareTokenCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "share_token_collisions_total",
		Help:      "Share tokens regenerated after a uniqueness conflict.",
	})

	// QuotaCorrections counts ledgers corrected by reconciliation.
	QuotaCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "corrections_total",
		Help:      "Quota ledgers corrected by background reconciliation.",
	})

	// JobsProcessed counts job attempts by type and outcome
	// (completed, retried, failed).
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "processed_total",
		Help:      "Job attempts by job type and outcome.",
	}, []string{"job_type", "outcome"})

	// JobDuration observes handler run time.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Job handler duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"job_type"})

	// JobsStalled counts jobs recovered by the stall sweep.
	JobsStalled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "stalled_total",
		Help:      "Stalled jobs found by the sweep, by resolution (requeued, failed).",
	}, []string{"resolution"})
)

// Result converts an error into the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
