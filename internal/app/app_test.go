package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/practice"
	"github.com/MrWong99/speakwell/pkg/analysis"
	"github.com/MrWong99/speakwell/pkg/analysis/mock"
	"github.com/MrWong99/speakwell/pkg/analysis/remote"
	"github.com/MrWong99/speakwell/pkg/scoring"
)

// testConfig returns the default config listening on an ephemeral port.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

// substituted counts substitutions: 3 under positional alignment of catBody,
// 0 under edit path alignment.
func substituted(body map[string]any) int {
	words, _ := body["word_analysis"].([]any)
	n := 0
	for _, w := range words {
		if w.(map[string]any)["status"] == string(scoring.StatusSubstituted) {
			n++
		}
	}
	return n
}

const catBody = `{"expected_text":"the cat sat on the mat","recognized_text":"the cat on the mat"}`

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig())
	h := a.Handler()

	for _, target := range []string{"/api/health", "/healthz", "/readyz"} {
		if rec := serve(t, h, "GET", target, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", target, rec.Code)
		}
	}

	rec := serve(t, h, "POST", "/api/analyze-pronunciation", catBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze = %d; body %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["source"] != analysis.SourceLocal {
		t.Errorf("source = %v, want local without a remote backend", body["source"])
	}
	if got := substituted(body); got != 0 {
		t.Errorf("substituted = %d, want 0 with edit path analysis", got)
	}

	stats := decode(t, serve(t, h, "GET", "/api/stats", ""))
	if stats["total_practice_sessions"] != 1.0 {
		t.Errorf("stats = %v, want one stored session", stats)
	}
	if rec := serve(t, h, "GET", "/ws/practice", ""); rec.Code == http.StatusNotFound {
		t.Error("practice stream route is not mounted")
	}
}

func TestNew_MetricsEndpoint(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig())
	h := a.Handler()

	serve(t, h, "POST", "/api/score", catBody)
	rec := serve(t, h, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rec.Code)
	}
	exposition := rec.Body.String()
	for _, want := range []string{"speakwell_comparisons_total", "speakwell_http_request_duration"} {
		if !strings.Contains(exposition, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNew_SQLiteStore(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Store.Driver = config.StoreSQLite
	cfg.Store.DSN = ":memory:"
	a := newApp(t, cfg)

	rec := serve(t, a.Handler(), "POST", "/api/analyze-pronunciation", catBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze = %d", rec.Code)
	}
	id, _ := decode(t, rec)["session_id"].(string)
	if got := serve(t, a.Handler(), "GET", "/api/sessions/"+id, ""); got.Code != http.StatusOK {
		t.Errorf("GET session = %d, want 200", got.Code)
	}
}

func TestNew_StoreOpenFails(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Store.Driver = "mongo"
	if _, err := app.New(context.Background(), cfg); err == nil {
		t.Fatal("New() should fail for an unknown store driver")
	}
}

func TestNew_RemoteFallsBackToLocal(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Remote.CircuitBreaker.MaxFailures = 1
	remoteMock := &mock.Analyzer{Err: &remote.StatusError{Code: 503, Message: "down"}}
	a := newApp(t, cfg, app.WithRemoteAnalyzer(remoteMock), app.WithStore(practice.NewMemStore()))
	h := a.Handler()

	for range 3 {
		rec := serve(t, h, "POST", "/api/analyze-pronunciation", catBody)
		if rec.Code != http.StatusOK {
			t.Fatalf("analyze = %d", rec.Code)
		}
		if src := decode(t, rec)["source"]; src != analysis.SourceLocal {
			t.Errorf("source = %v, want local fallback", src)
		}
	}
	if got := remoteMock.CallCount(); got != 1 {
		t.Errorf("remote calls = %d, want 1 before the breaker opened", got)
	}
	// The local backend is still closed, so the service stays ready.
	if rec := serve(t, h, "GET", "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("/readyz = %d, want 200 while local analysis works", rec.Code)
	}
	if !strings.Contains(serve(t, h, "GET", "/metrics", "").Body.String(), "speakwell_breaker_transitions_total") {
		t.Error("breaker transition not exported")
	}
}

func TestNew_RemoteAnswers(t *testing.T) {
	t.Parallel()
	remoteMock := &mock.Analyzer{Report: &analysis.Report{OverallScore: 91, Source: analysis.SourceRemote}}
	a := newApp(t, testConfig(), app.WithRemoteAnalyzer(remoteMock))

	body := decode(t, serve(t, a.Handler(), "POST", "/api/analyze-pronunciation", catBody))
	if body["source"] != analysis.SourceRemote || body["overall_score"] != 91.0 {
		t.Errorf("analyze = %v, want the remote report", body)
	}
}

func TestNew_HealthListsAnalyzers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts []app.Option
		want string
	}{
		{"local only", nil, "[local]"},
		{"remote first", []app.Option{app.WithRemoteAnalyzer(&mock.Analyzer{})}, "[remote local]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newApp(t, testConfig(), tt.opts...)
			body := decode(t, serve(t, a.Handler(), "GET", "/api/health", ""))
			if got := fmt.Sprint(body["analyzers"]); got != tt.want {
				t.Errorf("analyzers = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	level := new(slog.LevelVar)
	oldCfg := testConfig()
	a := newApp(t, oldCfg, app.WithLogLevel(level))
	h := a.Handler()

	newCfg := *oldCfg
	newCfg.Server.LogLevel = config.LogDebug
	newCfg.Scoring.Alignment = scoring.PolicyEditPath
	newCfg.Analysis.Alignment = scoring.PolicyPositional
	newCfg.Store.Driver = config.StoreSQLite // restart only
	a.ApplyConfig(oldCfg, &newCfg)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	if got := a.Coach().Engine().Aligner().Name(); got != scoring.PolicyEditPath {
		t.Errorf("scoring aligner = %q, want edit_path", got)
	}
	if got := substituted(decode(t, serve(t, h, "POST", "/api/analyze-pronunciation", catBody))); got != 3 {
		t.Errorf("substituted = %d, want 3 with positional analysis", got)
	}
	if got := substituted(decode(t, serve(t, h, "POST", "/api/score", catBody))); got != 0 {
		t.Errorf("score substituted = %d, want 0 with edit path scoring", got)
	}
}

func TestApplyConfig_InvalidKeepsPrevious(t *testing.T) {
	t.Parallel()
	oldCfg := testConfig()
	a := newApp(t, oldCfg)

	newCfg := *oldCfg
	newCfg.Scoring.Alignment = "bogus"
	newCfg.Analysis.Alignment = "bogus"
	a.ApplyConfig(oldCfg, &newCfg)

	if got := a.Coach().Engine().Aligner().Name(); got != scoring.PolicyPositional {
		t.Errorf("scoring aligner = %q, want the previous positional policy", got)
	}
	if got := substituted(decode(t, serve(t, a.Handler(), "POST", "/api/analyze-pronunciation", catBody))); got != 0 {
		t.Errorf("substituted = %d, want 0 with the previous edit path analysis", got)
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not become ready")
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), "healthy") {
		t.Errorf("health = %d %s", resp.StatusCode, b)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	a := newApp(t, cfg)
	if err := a.Run(context.Background()); err == nil {
		t.Error("Run() should fail on an invalid listen address")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown(cancelled) = %v, want context.Canceled", err)
	}
}
