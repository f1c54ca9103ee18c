package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

const outcomeOK = "ok"

// CirculationMetrics records mutation outcomes and lock waits.
type CirculationMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	lockWait   *prometheus.HistogramVec
}

// NewCirculationMetrics registers the circulation metrics on the provided registerer.
func NewCirculationMetrics(reg prometheus.Registerer) *CirculationMetrics {
	if reg == nil {
		return &CirculationMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_operations_total",
		Help: "Circulation mutations by operation and outcome code.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "circulation_operation_duration_seconds",
		Help:    "Duration of circulation mutations including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "circulation_lock_wait_seconds",
		Help:    "Time spent waiting for per-entity locks.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
	}, []string{"backend", "outcome"})
	reg.MustRegister(operations, duration, lockWait)
	return &CirculationMetrics{
		operations: operations,
		duration:   duration,
		lockWait:   lockWait,
	}
}

// ObserveOperation records one finished mutation. The outcome label is the
// error code, or "ok".
func (c *CirculationMetrics) ObserveOperation(operation string, started time.Time, err error) {
	if c == nil || c.operations == nil {
		return
	}
	op := normalizeLabel(operation)
	c.operations.WithLabelValues(op, outcomeLabel(err)).Inc()
	c.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveLockWait records how long an acquisition waited.
func (c *CirculationMetrics) ObserveLockWait(backend string, wait time.Duration, acquired bool) {
	if c == nil || c.lockWait == nil {
		return
	}
	outcome := "acquired"
	if !acquired {
		outcome = "timeout"
	}
	c.lockWait.WithLabelValues(normalizeLabel(backend), outcome).Observe(wait.Seconds())
}

func outcomeLabel(err error) string {
	if err == nil {
		return outcomeOK
	}
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return string(pkgerrors.CodeInternal)
}
