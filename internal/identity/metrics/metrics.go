package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the resolution core.
type Metrics struct {
	EventsResolved   *prometheus.CounterVec
	ResolveDuration  prometheus.Histogram
	VersionConflicts prometheus.Counter
	DuplicateEvents  prometheus.Counter
	ReviewEmitted    prometheus.Counter
}

// New creates and registers all resolution metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		EventsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unify_events_resolved_total",
			Help: "Events resolved, by source channel and decision",
		}, []string{"source", "decision"}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "unify_resolve_duration_seconds",
			Help:    "End-to-end latency of resolving one event",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unify_version_conflicts_total",
			Help: "Optimistic-concurrency conflicts during profile writes",
		}),
		DuplicateEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unify_duplicate_events_total",
			Help: "Redelivered events resolved as idempotent no-ops",
		}),
		ReviewEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unify_review_emitted_total",
			Help: "Events held for human adjudication",
		}),
	}
}

// ObserveResolve records one resolution outcome.
func (m *Metrics) ObserveResolve(source, decision string, elapsed time.Duration) {
	m.EventsResolved.WithLabelValues(source, decision).Inc()
	m.ResolveDuration.Observe(elapsed.Seconds())
}
