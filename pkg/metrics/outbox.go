package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics records what the publisher did with each claimed row.
type OutboxMetrics struct {
	dispatched *prometheus.CounterVec
	batches    *prometheus.HistogramVec
}

// NewOutboxMetrics registers the publisher metrics. A nil registerer yields a
// no-op collector.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_outbox_events_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batches := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "circulation_outbox_batch_duration_seconds",
		Help:    "Duration of committed and aborted publish batches.",
		Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15},
	}, []string{"outcome"})
	reg.MustRegister(dispatched, batches)
	return &OutboxMetrics{dispatched: dispatched, batches: batches}
}

// ObserveDispatch counts one row outcome (published, retry, dead_lettered).
func (m *OutboxMetrics) ObserveDispatch(eventType, outcome string) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveBatch records a batch that claimed at least one row.
func (m *OutboxMetrics) ObserveBatch(started time.Time, err error) {
	if m == nil || m.batches == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = "error"
	}
	m.batches.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}
