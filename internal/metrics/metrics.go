package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leottami/mindull-sub001/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsCompleted *prometheus.CounterVec
	ItemsFailed    *prometheus.CounterVec
	ItemsRetried   *prometheus.CounterVec
	ExecutionTime  *prometheus.HistogramVec
	PendingDepth   prometheus.Gauge
	ConflictsTotal *prometheus.CounterVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_items_completed_total",
			Help: "Total number of mutations confirmed by the backend and removed.",
		}, []string{"domain"}),

		ItemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_items_failed_total",
			Help: "Total number of items moved to the terminal failed state.",
		}, []string{"domain", "class"}),

		ItemsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_items_retried_total",
			Help: "Total number of transient failures that scheduled a retry.",
		}, []string{"domain"}),

		ExecutionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbox_execution_seconds",
			Help:    "Per-item latency from dispatch to backend ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"domain"}),

		PendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_depth",
			Help: "Current number of pending items in the queue.",
		}),

		ConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_conflicts_total",
			Help: "Total number of optimistic-lock conflicts resolved remote-wins.",
		}, []string{"domain"}),
	}

	reg.MustRegister(
		m.ItemsCompleted,
		m.ItemsFailed,
		m.ItemsRetried,
		m.ExecutionTime,
		m.PendingDepth,
		m.ConflictsTotal,
	)

	return m
}

// ProcessorHooks returns the metric callback functions expected by
// outbox.Hooks. Centralises the prometheus observation calls so the
// processor stays metrics-agnostic.
func (m *Metrics) ProcessorHooks() (
	onCompleted func(domainTag string, latency time.Duration),
	onRetry func(domainTag string),
	onFailed func(domainTag string, class domain.FailureClass),
) {
	onCompleted = func(domainTag string, latency time.Duration) {
		m.ItemsCompleted.WithLabelValues(domainTag).Inc()
		m.ExecutionTime.WithLabelValues(domainTag).Observe(latency.Seconds())
	}
	onRetry = func(domainTag string) {
		m.ItemsRetried.WithLabelValues(domainTag).Inc()
	}
	onFailed = func(domainTag string, class domain.FailureClass) {
		m.ItemsFailed.WithLabelValues(domainTag, string(class)).Inc()
		if class == domain.FailureConflict {
			m.ConflictsTotal.WithLabelValues(domainTag).Inc()
		}
	}
	return
}
