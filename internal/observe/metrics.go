// Package observe provides the runtime's observability primitives:
// OpenTelemetry metrics, tracing, and HTTP middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// via a Prometheus bridge ([InitProvider]) so the standard /metrics endpoint
// keeps working. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all runtime metrics.
const meterName = "github.com/voxsec/voxsec"

// Metrics holds the OpenTelemetry instruments of the call runtime. All
// fields are safe for concurrent use.
type Metrics struct {
	// CallDuration tracks full call length in seconds. Attributes: tenant,
	// outcome.
	CallDuration metric.Float64Histogram

	// ProviderLatency tracks time from end of user turn to first model
	// audio.
	ProviderLatency metric.Float64Histogram

	// ToolDuration tracks tool invocation latency. Attributes: tool,
	// status.
	ToolDuration metric.Float64Histogram

	// TransferDuration tracks time from transfer request to bridge or
	// fallback. Attribute: result.
	TransferDuration metric.Float64Histogram

	// Calls counts finished calls. Attributes: tenant, outcome.
	Calls metric.Int64Counter

	// Transfers counts transfer attempts. Attributes: tenant, result
	// (bridged, rejected, timeout, failed).
	Transfers metric.Int64Counter

	// MediaFrames counts media frames moved. Attribute: direction
	// (in, out).
	MediaFrames metric.Int64Counter

	// ProviderErrors counts provider session errors. Attribute: kind.
	ProviderErrors metric.Int64Counter

	// ActiveCalls tracks the number of live sessions.
	ActiveCalls metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time for the
	// operational endpoints. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers sub-second conversational latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets covers call and transfer durations in seconds.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CallDuration, err = m.Float64Histogram("voxsec.call.duration",
		metric.WithDescription("Full call duration by tenant and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderLatency, err = m.Float64Histogram("voxsec.provider.latency",
		metric.WithDescription("Time from end of user turn to first model audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("voxsec.tool.duration",
		metric.WithDescription("Tool invocation latency by tool and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TransferDuration, err = m.Float64Histogram("voxsec.transfer.duration",
		metric.WithDescription("Time from transfer request to bridge or fallback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Calls, err = m.Int64Counter("voxsec.calls",
		metric.WithDescription("Finished calls by tenant and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Transfers, err = m.Int64Counter("voxsec.transfers",
		metric.WithDescription("Transfer attempts by tenant and result."),
	); err != nil {
		return nil, err
	}
	if met.MediaFrames, err = m.Int64Counter("voxsec.media.frames",
		metric.WithDescription("Media frames moved by direction."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxsec.provider.errors",
		metric.WithDescription("Provider session errors by kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("voxsec.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxsec.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// CallStarted records a session coming up.
func (m *Metrics) CallStarted(ctx context.Context, tenant string) {
	m.ActiveCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
}

// CallFinished records a finished call and releases its active slot.
func (m *Metrics) CallFinished(ctx context.Context, tenant, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("outcome", outcome),
	)
	m.Calls.Add(ctx, 1, attrs)
	m.CallDuration.Record(ctx, duration.Seconds(), attrs)
	m.ActiveCalls.Add(ctx, -1, metric.WithAttributes(attribute.String("tenant", tenant)))
}

// RecordTool records one tool invocation.
func (m *Metrics) RecordTool(ctx context.Context, tool, status string, duration time.Duration) {
	m.ToolDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordTransfer records one transfer attempt and its result.
func (m *Metrics) RecordTransfer(ctx context.Context, tenant, result string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("result", result),
	)
	m.Transfers.Add(ctx, 1, attrs)
	m.TransferDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordProviderError records one provider session error.
func (m *Metrics) RecordProviderError(ctx context.Context, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// AddMediaFrames records frames moved in one direction.
func (m *Metrics) AddMediaFrames(ctx context.Context, direction string, n int64) {
	m.MediaFrames.Add(ctx, n, metric.WithAttributes(attribute.String("direction", direction)))
}
