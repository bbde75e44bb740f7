// Package observe provides application-wide observability primitives for
// speakwell: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all speakwell metrics.
const meterName = "github.com/MrWong99/speakwell"

// Analysis outcome labels used with [Metrics.RecordAnalysis].
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Scoring ---

	// Comparisons counts engine comparisons. Use with attribute:
	//   attribute.String("alignment", ...)
	Comparisons metric.Int64Counter

	// Score tracks the distribution of headline scores. Use with attribute:
	//   attribute.String("kind", "pronunciation"|"fluency"|"completeness")
	Score metric.Float64Histogram

	// --- Analysis ---

	// AnalysisRequests counts analyses by the source that answered and the
	// outcome. Use with attributes:
	//   attribute.String("source", ...), attribute.String("status", ...)
	AnalysisRequests metric.Int64Counter

	// AnalysisDuration tracks end-to-end analysis latency including failover.
	AnalysisDuration metric.Float64Histogram

	// Fallbacks counts analyses answered by the offline engine after every
	// analyzer failed.
	Fallbacks metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("from", ...),
	//   attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Practice sessions ---

	// SessionsSaved counts persisted practice sessions by status.
	SessionsSaved metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks open live practice websocket connections.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// method, matched route pattern and status code.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Local
// analysis finishes in well under a millisecond; remote calls take longer.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// scoreBuckets covers the 0..100 score range in steps of ten.
var scoreBuckets = []float64{
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.Score, err = m.Float64Histogram("speakwell.score",
		metric.WithDescription("Distribution of headline scores by kind."),
		metric.WithUnit("{point}"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("speakwell.analysis.duration",
		metric.WithDescription("Latency of one analysis including failover."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Comparisons, err = m.Int64Counter("speakwell.comparisons",
		metric.WithDescription("Total engine comparisons by alignment policy."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisRequests, err = m.Int64Counter("speakwell.analysis.requests",
		metric.WithDescription("Total analyses by answering source and status."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("speakwell.fallbacks",
		metric.WithDescription("Total analyses answered by the offline engine."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("speakwell.breaker.transitions",
		metric.WithDescription("Total circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	if met.SessionsSaved, err = m.Int64Counter("speakwell.sessions.saved",
		metric.WithDescription("Total practice session writes by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("speakwell.ws.active",
		metric.WithDescription("Number of open live practice streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakwell.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordComparison counts one engine comparison under the given alignment
// policy name.
func (m *Metrics) RecordComparison(ctx context.Context, alignment string) {
	m.Comparisons.Add(ctx, 1, metric.WithAttributes(attribute.String("alignment", alignment)))
}

// RecordScores records the three headline scores of one result.
func (m *Metrics) RecordScores(ctx context.Context, pronunciation, fluency, completeness float64) {
	m.Score.Record(ctx, pronunciation, metric.WithAttributes(attribute.String("kind", "pronunciation")))
	m.Score.Record(ctx, fluency, metric.WithAttributes(attribute.String("kind", "fluency")))
	m.Score.Record(ctx, completeness, metric.WithAttributes(attribute.String("kind", "completeness")))
}

// RecordAnalysis counts one analysis and records its latency.
func (m *Metrics) RecordAnalysis(ctx context.Context, source, status string, d time.Duration) {
	m.AnalysisRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
	m.AnalysisDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordFallback counts one offline fallback.
func (m *Metrics) RecordFallback(ctx context.Context) {
	m.Fallbacks.Add(ctx, 1)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordSessionSaved counts one practice session write.
func (m *Metrics) RecordSessionSaved(ctx context.Context, status string) {
	m.SessionsSaved.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
