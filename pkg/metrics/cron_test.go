package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "overdue-notices"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "circulation_cron_job_runs_total", "outcome", "ok"); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "circulation_cron_job_runs_total", "outcome", "error"); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "circulation_cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}

func TestCirculationMetricsLabelsOutcomeByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCirculationMetrics(reg)

	m.ObserveOperation("pay", time.Now(), nil)
	m.ObserveOperation("pay", time.Now(), pkgerrors.New(pkgerrors.CodeAlreadySettled, "paid"))
	m.ObserveLockWait("local", 10*time.Millisecond, false)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	mf := findMetricFamily(mfs, "circulation_operations_total")
	if mf == nil {
		t.Fatalf("operations metric missing")
	}
	var ok, settled float64
	for _, metric := range mf.GetMetric() {
		switch {
		case matchesLabel(metric.GetLabel(), "outcome", "ok"):
			ok = metric.GetCounter().GetValue()
		case matchesLabel(metric.GetLabel(), "outcome", "ALREADY_SETTLED"):
			settled = metric.GetCounter().GetValue()
		}
	}
	if ok != 1 || settled != 1 {
		t.Fatalf("expected one ok and one ALREADY_SETTLED, got ok=%f settled=%f", ok, settled)
	}

	if got, err := fetchHistogramCount(mfs, "circulation_lock_wait_seconds", "outcome", "timeout"); err != nil {
		t.Fatalf("fetch lock wait: %v", err)
	} else if got != 1 {
		t.Fatalf("expected one timeout sample, got %d", got)
	}
}

func TestHTTPMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.Observe("POST", "/api/v1/loans/{loanId}/pay", 200, 5*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "http_requests_total", "route", "/api/v1/loans/{loanId}/pay"); err != nil {
		t.Fatalf("fetch requests: %v", err)
	} else if got != 1 {
		t.Fatalf("expected 1 request, got %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var c *CirculationMetrics
	c.ObserveOperation("pay", time.Now(), nil)
	c.ObserveLockWait("local", time.Millisecond, true)
	NewHTTPMetrics(nil).Observe("GET", "/", 200, time.Millisecond)
}

func fetchHistogramCount(mfs []*dto.MetricFamily, name, label, value string) (uint64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleCount(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func TestOutboxMetricsCountsDispatchOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.ObserveDispatch("loan_returned", "published")
	m.ObserveDispatch("loan_returned", "published")
	m.ObserveDispatch("fine_paid", "dead_lettered")
	m.ObserveBatch(time.Now().Add(-10*time.Millisecond), nil)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "circulation_outbox_events_total", "outcome", "published"); err != nil {
		t.Fatalf("fetch published: %v", err)
	} else if got != 2 {
		t.Fatalf("expected published=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "circulation_outbox_events_total", "event_type", "fine_paid"); err != nil {
		t.Fatalf("fetch dead lettered: %v", err)
	} else if got != 1 {
		t.Fatalf("expected fine_paid=1, got %f", got)
	}
	if got, err := fetchHistogramCount(mfs, "circulation_outbox_batch_duration_seconds", "outcome", "ok"); err != nil {
		t.Fatalf("fetch batch: %v", err)
	} else if got != 1 {
		t.Fatalf("expected one batch sample, got %d", got)
	}

	var nilMetrics *OutboxMetrics
	nilMetrics.ObserveDispatch("loan_returned", "retry")
	nilMetrics.ObserveBatch(time.Now(), nil)
}
