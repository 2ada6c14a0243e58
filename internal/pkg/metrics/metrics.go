// Package metrics exposes Prometheus collectors for the persistence layer,
// the publication workflow and the maintenance jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reelkit"

var (
	rowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "rows_written_total",
			Help:      "Rows saved, deleted or archived per entity type",
		},
		[]string{"entity", "op"},
	)

	persistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "errors_total",
			Help:      "Failed persistence statements per entity type",
		},
		[]string{"entity", "op"},
	)

	flushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "flush_duration_seconds",
			Help:      "Duration of deferred-write flushes in seconds",
		},
	)

	postSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "post_steps_total",
			Help:      "Publication steps by step, platform and outcome",
		},
		[]string{"step", "platform", "outcome"},
	)

	sweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "sweep_deleted_total",
			Help:      "Videos deleted by the status sweep",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordRowsWritten(entity, op string, n int) {
	if n <= 0 {
		return
	}
	rowsWritten.WithLabelValues(entity, op).Add(float64(n))
}

func RecordPersistError(entity, op string) {
	persistErrors.WithLabelValues(entity, op).Inc()
}

func RecordFlush(duration time.Duration) {
	flushDuration.Observe(duration.Seconds())
}

func RecordPostStep(step, platform, outcome string) {
	postSteps.WithLabelValues(step, platform, outcome).Inc()
}

func RecordSweepDeleted(n int) {
	if n > 0 {
		sweepDeleted.Add(float64(n))
	}
}
