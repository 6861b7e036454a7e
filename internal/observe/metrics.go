// Package observe provides application-wide observability primitives for
// fluentstream: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all fluentstream metrics.
const meterName = "github.com/Dirold2/fluent-streamer-sub000"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// RunDuration tracks wall-clock time from process spawn to exit.
	// Use with attribute: attribute.String("outcome", ...)
	RunDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// Runs counts completed transcoder runs. Use with attribute:
	//   attribute.String("outcome", ...) — "completed", "terminated",
	//   "timeout", or "error".
	Runs metric.Int64Counter

	// OutputBytes counts processed PCM bytes delivered to the sink.
	OutputBytes metric.Int64Counter

	// ChainSwaps counts live effect-chain replacements. Use with attribute:
	//   attribute.String("mode", ...) — "parameter", "soft", or "hard".
	ChainSwaps metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of transcoder processes currently running.
	ActiveRuns metric.Int64UpDownCounter

	// ProgressSpeed reports the transcoder's most recent speed multiplier
	// (1.0 = realtime).
	ProgressSpeed metric.Float64Gauge

	// ProgressFPS reports the transcoder's most recent frames-per-second
	// reading.
	ProgressFPS metric.Float64Gauge
}

// runBuckets defines histogram bucket boundaries (in seconds) sized for
// transcoder runtimes, from short clips to feature-length inputs.
var runBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for HTTP
// request handling.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RunDuration, err = m.Float64Histogram("fluentstream.run.duration",
		metric.WithDescription("Wall-clock time from transcoder spawn to exit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("fluentstream.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Runs, err = m.Int64Counter("fluentstream.runs",
		metric.WithDescription("Total transcoder runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.OutputBytes, err = m.Int64Counter("fluentstream.output.bytes",
		metric.WithDescription("Processed PCM bytes delivered to the sink."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ChainSwaps, err = m.Int64Counter("fluentstream.chain.swaps",
		metric.WithDescription("Live effect-chain replacements by mode."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveRuns, err = m.Int64UpDownCounter("fluentstream.active_runs",
		metric.WithDescription("Number of transcoder processes currently running."),
	); err != nil {
		return nil, err
	}
	if met.ProgressSpeed, err = m.Float64Gauge("fluentstream.progress.speed",
		metric.WithDescription("Most recent transcoder speed multiplier (1.0 = realtime)."),
	); err != nil {
		return nil, err
	}
	if met.ProgressFPS, err = m.Float64Gauge("fluentstream.progress.fps",
		metric.WithDescription("Most recent transcoder frames-per-second reading."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRun is a convenience method that records one finished run: its
// outcome counter increment and its duration in seconds.
func (m *Metrics) RecordRun(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Runs.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, seconds, attrs)
}

// RecordSwap is a convenience method that records a live chain replacement.
func (m *Metrics) RecordSwap(ctx context.Context, mode string) {
	m.ChainSwaps.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordProgress is a convenience method that publishes the latest progress
// gauges scraped from the transcoder.
func (m *Metrics) RecordProgress(ctx context.Context, fps, speed float64) {
	if fps > 0 {
		m.ProgressFPS.Record(ctx, fps)
	}
	if speed > 0 {
		m.ProgressSpeed.Record(ctx, speed)
	}
}
