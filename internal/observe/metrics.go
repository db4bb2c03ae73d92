// Package observe provides the observability primitives for voxbridge:
// OpenTelemetry metrics, tracing for the HTTP surface, and the middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider], so they can be scraped from /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/voxbridge/voxbridge"

// Send outcomes recorded on [Metrics.LinkSends].
const (
	SendOK           = "ok"
	SendNotConnected = "not_connected"
	SendError        = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Audio ---

	// FramesDropped counts frames evicted from the full frame queue.
	FramesDropped metric.Int64Counter

	// FramesProcessed counts frames fed to the recognizer.
	FramesProcessed metric.Int64Counter

	// --- Recognition ---

	// RecognitionDuration tracks the time spent in one Recognizer.Feed call.
	RecognitionDuration metric.Float64Histogram

	// RecognitionErrors counts failed Feed calls.
	RecognitionErrors metric.Int64Counter

	// CommandsRecognized counts commands that passed the debouncer. Use with
	// attribute.String("command", ...).
	CommandsRecognized metric.Int64Counter

	// CommandsSuppressed counts commands rejected by the debouncer. Use with
	// attribute.String("command", ...).
	CommandsSuppressed metric.Int64Counter

	// --- Link ---

	// LinkSends counts Send calls. Use with attribute.String("outcome", ...).
	LinkSends metric.Int64Counter

	// LinkConnectAttempts counts dial attempts. Use with
	// attribute.String("outcome", ...).
	LinkConnectAttempts metric.Int64Counter

	// LinkConnected is 1 while the peer link is up and 0 otherwise.
	LinkConnected metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// per-frame recognition latency.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesDropped, err = m.Int64Counter("voxbridge.frames.dropped",
		metric.WithDescription("Audio frames evicted from the full frame queue."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("voxbridge.frames.processed",
		metric.WithDescription("Audio frames fed to the recognizer."),
	); err != nil {
		return nil, err
	}

	if met.RecognitionDuration, err = m.Float64Histogram("voxbridge.recognition.duration",
		metric.WithDescription("Latency of a single recognizer Feed call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("voxbridge.recognition.errors",
		metric.WithDescription("Recognizer Feed calls that returned an error."),
	); err != nil {
		return nil, err
	}
	if met.CommandsRecognized, err = m.Int64Counter("voxbridge.commands.recognized",
		metric.WithDescription("Commands accepted by the debouncer, by command."),
	); err != nil {
		return nil, err
	}
	if met.CommandsSuppressed, err = m.Int64Counter("voxbridge.commands.suppressed",
		metric.WithDescription("Commands suppressed by the debouncer, by command."),
	); err != nil {
		return nil, err
	}

	if met.LinkSends, err = m.Int64Counter("voxbridge.link.sends",
		metric.WithDescription("Command sends to the peer, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LinkConnectAttempts, err = m.Int64Counter("voxbridge.link.connect_attempts",
		metric.WithDescription("Dial attempts to the peer, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LinkConnected, err = m.Int64UpDownCounter("voxbridge.link.connected",
		metric.WithDescription("1 while the peer link is connected."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordCommand records a debouncer decision for command.
func (m *Metrics) RecordCommand(ctx context.Context, command string, accepted bool) {
	c := m.CommandsSuppressed
	if accepted {
		c = m.CommandsRecognized
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// RecordSend records the outcome of one link send.
func (m *Metrics) RecordSend(ctx context.Context, outcome string) {
	m.LinkSends.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordConnectAttempt records the outcome of one dial attempt.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, outcome string) {
	m.LinkConnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
