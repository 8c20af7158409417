// Package tracking records OpenTelemetry metrics for the request scheduler.
package tracking

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// MeterName identifies the scheduler's instrumentation scope.
	MeterName = "webqueue/scheduler"

	MetricSubmitted       = "webqueue.requests.submitted"
	MetricCompleted       = "webqueue.requests.completed"
	MetricRetries         = "webqueue.requests.retries"
	MetricQueued          = "webqueue.requests.queued"
	MetricInFlight        = "webqueue.requests.in_flight"
	MetricAttemptDuration = "http.client.request.duration"

	attrPriority    = "webqueue.priority"
	attrOutcome     = "webqueue.outcome"
	attrDisposition = "webqueue.retry.disposition"
	attrMethod      = "http.request.method"
	attrStatusCode  = "http.response.status_code"
)

// Completion outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
	OutcomeTimeout  = "timeout"
)

// Metrics holds the scheduler instruments. A nil *Metrics records nothing.
type Metrics struct {
	submitted       metric.Int64Counter
	completed       metric.Int64Counter
	retries         metric.Int64Counter
	queued          metric.Int64UpDownCounter
	inFlight        metric.Int64UpDownCounter
	attemptDuration metric.Float64Histogram
}

func logMetricError(name string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize scheduler metric %s: %v\n", name, err)
	}
}

// New creates the scheduler instruments from mp, or from the global provider when mp is nil.
func New(mp metric.MeterProvider) *Metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	var err error
	m.submitted, err = meter.Int64Counter(MetricSubmitted,
		metric.WithDescription("Requests accepted by the scheduler"),
		metric.WithUnit("{request}"))
	logMetricError(MetricSubmitted, err)

	m.completed, err = meter.Int64Counter(MetricCompleted,
		metric.WithDescription("Requests whose completion handle settled"),
		metric.WithUnit("{request}"))
	logMetricError(MetricCompleted, err)

	m.retries, err = meter.Int64Counter(MetricRetries,
		metric.WithDescription("Failed attempts scheduled for another try"),
		metric.WithUnit("{retry}"))
	logMetricError(MetricRetries, err)

	m.queued, err = meter.Int64UpDownCounter(MetricQueued,
		metric.WithDescription("Requests waiting in the pending queue"),
		metric.WithUnit("{request}"))
	logMetricError(MetricQueued, err)

	m.inFlight, err = meter.Int64UpDownCounter(MetricInFlight,
		metric.WithDescription("Requests currently executing against the transport"),
		metric.WithUnit("{request}"))
	logMetricError(MetricInFlight, err)

	m.attemptDuration, err = meter.Float64Histogram(MetricAttemptDuration,
		metric.WithDescription("Duration of individual transport attempts"),
		metric.WithUnit("s"))
	logMetricError(MetricAttemptDuration, err)

	return m
}

// Submitted counts an accepted request.
func (m *Metrics) Submitted(ctx context.Context, priority string) {
	if m == nil || m.submitted == nil {
		return
	}
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String(attrPriority, priority)))
}

// Queued adjusts the pending queue depth.
func (m *Metrics) Queued(ctx context.Context, delta int64) {
	if m == nil || m.queued == nil {
		return
	}
	m.queued.Add(ctx, delta)
}

// InFlight adjusts the number of executing requests.
func (m *Metrics) InFlight(ctx context.Context, delta int64) {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Add(ctx, delta)
}

// Attempt records one transport round trip. status is 0 when no response arrived.
func (m *Metrics) Attempt(ctx context.Context, method string, status int, elapsed time.Duration) {
	if m == nil || m.attemptDuration == nil {
		return
	}
	m.attemptDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.Int(attrStatusCode, status),
	))
}

// Retried counts a retry with its classifier disposition.
func (m *Metrics) Retried(ctx context.Context, disposition string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String(attrDisposition, disposition)))
}

// Completed counts a settled request by outcome.
func (m *Metrics) Completed(ctx context.Context, outcome string) {
	if m == nil || m.completed == nil {
		return
	}
	m.completed.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}
