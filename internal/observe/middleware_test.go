package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

type instrumented struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

// instrument wraps a small mux in Middleware with in-memory exporters. The
// global tracer provider is swapped, so callers must not run in parallel.
func instrument(t *testing.T) *instrumented {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		if r.PathValue("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("POST /api/score", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	return &instrumented{handler: Middleware(m)(mux), reader: reader, spans: exp}
}

func (in *instrumented) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	in.handler.ServeHTTP(rec, req)
	return rec
}

func (in *instrumented) durationPoints(t *testing.T) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := in.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "speakwell.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func TestMiddleware_CorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "continues caller trace",
			traceparent: "00-" + incomingTraceID + "-00f067aa0ba902b7-01",
			want:        incomingTraceID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := instrument(t)
			h := http.Header{}
			if tt.traceparent != "" {
				h.Set("traceparent", tt.traceparent)
			}
			rec := in.do("GET", "/api/sessions/abc", h)

			got := rec.Header().Get("X-Correlation-ID")
			if len(got) != 32 {
				t.Fatalf("X-Correlation-ID = %q, want a 32 hex digit trace ID", got)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("X-Correlation-ID = %q, want %q", got, tt.want)
			}
			if seen := rec.Header().Get("X-Seen-Correlation"); seen != got {
				t.Errorf("handler saw %q, response carries %q", seen, got)
			}
		})
	}
}

func TestMiddleware_SpanUsesRoutePattern(t *testing.T) {
	in := instrument(t)
	in.do("GET", "/api/sessions/missing", nil)

	spans := in.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "HTTP GET /api/sessions/{id}" {
		t.Errorf("span name = %q", s.Name)
	}
	attrs := attribute.NewSet(s.Attributes...)
	if v, _ := attrs.Value("http.route"); v.AsString() != "/api/sessions/{id}" {
		t.Errorf("http.route = %q", v.AsString())
	}
	if v, _ := attrs.Value("http.response.status_code"); v.AsInt64() != http.StatusNotFound {
		t.Errorf("http.response.status_code = %d, want 404", v.AsInt64())
	}
}

func TestMiddleware_DurationLabels(t *testing.T) {
	in := instrument(t)
	in.do("GET", "/api/sessions/one", nil)
	in.do("GET", "/api/sessions/two", nil)
	in.do("POST", "/api/score", nil)
	in.do("GET", "/nowhere", nil)

	type key struct {
		method, route string
		status        int64
	}
	counts := map[key]uint64{}
	for _, dp := range in.durationPoints(t) {
		method, _ := dp.Attributes.Value("method")
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		counts[key{method.AsString(), route.AsString(), status.AsInt64()}] += dp.Count
	}

	want := map[key]uint64{
		{"GET", "/api/sessions/{id}", 200}: 2,
		{"POST", "/api/score", 500}:        1,
		{"GET", unmatchedRoute, 404}:       1,
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("count%+v = %d, want %d (all: %v)", k, counts[k], n, counts)
		}
	}
}

func TestRouteOf(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                         unmatchedRoute,
		"GET /api/stats":           "/api/stats",
		"/ws/practice":             "/ws/practice",
		"GET example.com/api/{id}": "example.com/api/{id}",
	}
	for in, want := range tests {
		if got := routeOf(in); got != want {
			t.Errorf("routeOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusRecorder_Hijack(t *testing.T) {
	t.Parallel()
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("Hijack on a non-hijackable writer should fail")
	}
	if rec.Unwrap() == nil {
		t.Error("Unwrap returned nil")
	}
}
