package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the int64 sum data point whose attributes
// contain key=value.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordComparison(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordComparison(ctx, "positional")
	m.RecordComparison(ctx, "positional")
	m.RecordComparison(ctx, "edit_path")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "speakwell.comparisons", "alignment", "positional"); got != 2 {
		t.Errorf("positional comparisons = %d, want 2", got)
	}
	if got := sumValue(t, rm, "speakwell.comparisons", "alignment", "edit_path"); got != 1 {
		t.Errorf("edit_path comparisons = %d, want 1", got)
	}
}

func TestRecordScores(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordScores(ctx, 64, 100, 100)
	m.RecordScores(ctx, 47, 80, 50)

	rm := collect(t, reader)
	met := findMetric(rm, "speakwell.score")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 3 {
		t.Fatalf("data points = %d, want one per kind", len(hist.DataPoints))
	}
	for _, dp := range hist.DataPoints {
		if dp.Count != 2 {
			t.Errorf("sample count = %d, want 2", dp.Count)
		}
		kind, _ := dp.Attributes.Value("kind")
		if kind.AsString() == "pronunciation" && dp.Sum != 111 {
			t.Errorf("pronunciation sum = %v, want 111", dp.Sum)
		}
	}
}

func TestRecordAnalysis(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAnalysis(ctx, "remote", StatusOK, 120*time.Millisecond)
	m.RecordAnalysis(ctx, "local", StatusOK, time.Millisecond)
	m.RecordAnalysis(ctx, "local", StatusError, time.Millisecond)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "speakwell.analysis.requests", "source", "remote"); got != 1 {
		t.Errorf("remote requests = %d, want 1", got)
	}
	if got := sumValue(t, rm, "speakwell.analysis.requests", "status", StatusError); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}

	met := findMetric(rm, "speakwell.analysis.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("duration samples = %d, want 3", total)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBreakerTransition(ctx, "remote", "closed", "open")
	m.RecordBreakerTransition(ctx, "remote", "open", "half-open")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "speakwell.breaker.transitions", "to", "open"); got != 1 {
		t.Errorf("transitions to open = %d, want 1", got)
	}
}

func TestFallbackAndSessionCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFallback(ctx)
	m.RecordFallback(ctx)
	m.RecordSessionSaved(ctx, StatusOK)

	rm := collect(t, reader)
	met := findMetric(rm, "speakwell.fallbacks")
	if met == nil {
		t.Fatal("fallbacks metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("fallbacks has no sum data")
	}
	if sum.DataPoints[0].Value != 2 {
		t.Errorf("fallbacks = %d, want 2", sum.DataPoints[0].Value)
	}
	if got := sumValue(t, rm, "speakwell.sessions.saved", "status", StatusOK); got != 1 {
		t.Errorf("sessions saved = %d, want 1", got)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "speakwell.ws.active")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("gauge has no sum data")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "speakwell.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
