// Package app wires all speakwell subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context is cancelled, and Shutdown
// tears everything down in order. ApplyConfig is the hot-reload hook handed
// to a [config.Watcher].
//
// For testing, inject doubles via functional options (WithStore,
// WithRemoteAnalyzer, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakwell/internal/api"
	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/health"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/practice"
	"github.com/MrWong99/speakwell/internal/resilience"
	"github.com/MrWong99/speakwell/pkg/analysis"
	"github.com/MrWong99/speakwell/pkg/analysis/remote"
)

// Backend names used for breakers, health checks and metrics.
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

// readHeaderTimeout bounds reading request headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	level    *slog.LevelVar
	registry *prometheus.Registry

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	store     practice.Store
	local     *localAnalyzer
	remote    analysis.Analyzer
	chain     *resilience.AnalyzerFallback
	coach     *coach.Coach
	handler   http.Handler
	server    *http.Server

	ready    chan struct{}
	addrMu   sync.Mutex
	addr     net.Addr
	stopOnce sync.Once

	// closers are called in order during Shutdown.
	closers []func(context.Context) error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a practice store instead of opening one from config. The
// caller keeps ownership; Shutdown does not close it.
func WithStore(s practice.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRemoteAnalyzer injects the primary analyzer instead of building a
// remote client from config.
func WithRemoteAnalyzer(r analysis.Analyzer) Option {
	return func(a *App) { a.remote = r }
}

// WithLogLevel lets ApplyConfig adjust the process log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithRegistry sets the Prometheus registry served on the metrics path.
// Default: a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(a *App) { a.registry = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. New performs all
// initialisation synchronously: telemetry, store connection and migration,
// analyzer chain, coach and HTTP routing.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Practice store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		_ = a.closeAll(ctx)
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Analyzer chain ────────────────────────────────────────────────
	analyzer, err := a.initAnalyzers()
	if err != nil {
		_ = a.closeAll(ctx)
		return nil, fmt.Errorf("app: init analyzers: %w", err)
	}

	// ── 4. Coach ─────────────────────────────────────────────────────────
	a.coach = coach.New(
		coach.WithAnalyzer(analyzer),
		coach.WithStore(a.store),
		coach.WithMetrics(a.metrics),
		coach.WithTimeout(cfg.Server.RequestTimeout),
	)
	if err := a.coach.SetScoring(cfg.Scoring.Alignment, cfg.Scoring.CorrectThreshold); err != nil {
		_ = a.closeAll(ctx)
		return nil, fmt.Errorf("app: init scoring: %w", err)
	}

	// ── 5. HTTP routing ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTelemetry(ctx context.Context) error {
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: a.cfg.Telemetry.ServiceName,
		Registry:    a.registry,
	})
	if err != nil {
		return err
	}
	a.telemetry = tel

	m, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return err
	}
	a.metrics = m
	a.closers = append(a.closers, tel.Shutdown)
	return nil
}

// initStore opens the configured practice store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	s, err := practice.Open(ctx, string(a.cfg.Store.Driver), a.cfg.Store.DSN)
	if err != nil {
		return err
	}
	a.store = s
	// Run before telemetry shutdown.
	a.closers = append([]func(context.Context) error{func(context.Context) error { return s.Close() }}, a.closers...)
	slog.Info("practice store ready", "driver", a.cfg.Store.Driver)
	return nil
}

// initAnalyzers builds local analysis and, when a remote backend is
// configured or injected, a fallback chain with the remote service first.
func (a *App) initAnalyzers() (analysis.Analyzer, error) {
	local, err := newLocalAnalyzer(a.cfg.Analysis)
	if err != nil {
		return nil, err
	}
	a.local = local

	if a.remote == nil && a.cfg.Remote.BaseURL != "" {
		rc, err := remote.New(a.cfg.Remote.BaseURL,
			remote.WithTimeout(a.cfg.Remote.Timeout),
			remote.WithAPIKey(a.cfg.Remote.APIKey),
		)
		if err != nil {
			return nil, err
		}
		a.remote = rc
		slog.Info("remote analysis enabled", "endpoint", rc.Endpoint())
	}
	if a.remote == nil {
		return a.local, nil
	}

	cb := a.cfg.Remote.CircuitBreaker
	a.chain = resilience.NewAnalyzerFallback(a.remote, BackendRemote, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   cb.MaxFailures,
			ResetTimeout:  cb.ResetTimeout,
			HalfOpenMax:   cb.HalfOpenMax,
			OnStateChange: a.onBreakerChange,
		},
	})
	a.chain.AddFallback(BackendLocal, a.local)
	return a.chain, nil
}

func (a *App) onBreakerChange(name string, from, to resilience.State) {
	slog.Warn("analyzer breaker changed state", "backend", name, "from", from, "to", to)
	a.metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
}

// initHTTP assembles the API, health and metrics endpoints behind the
// observability middleware.
func (a *App) initHTTP() {
	checkers := []health.Checker{health.PingCheck("store", a.store)}
	if a.chain != nil {
		checkers = append(checkers, health.BreakerCheck("analyzers", a.chain.States))
	}

	backends := []string{BackendLocal}
	if a.chain != nil {
		backends = a.chain.Backends()
	}

	mux := http.NewServeMux()
	api.New(a.coach,
		api.WithStore(a.store),
		api.WithMetrics(a.metrics),
		api.WithMaxTextLength(a.cfg.Server.MaxTextLength),
		api.WithAnalyzerBackends(backends),
	).Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, a.telemetry.Handler)

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Coach returns the coach serving API requests.
func (a *App) Coach() *coach.Coach { return a.coach }

// Ready is closed once Run is accepting connections.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the bound listen address, or nil before Run is ready.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight requests for
// at most the configured shutdown timeout. It returns ctx.Err() after a
// cancellation and the serve error otherwise. Run must be called at most
// once.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()
	close(a.ready)

	slog.Info("app running", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown incomplete", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of newCfg. Changes to other
// sections are logged and take effect on the next restart.
func (a *App) ApplyConfig(oldCfg, newCfg *config.Config) {
	d := config.Diff(oldCfg, newCfg)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ScoringChanged {
		if err := a.coach.SetScoring(newCfg.Scoring.Alignment, newCfg.Scoring.CorrectThreshold); err != nil {
			slog.Error("scoring settings rejected", "err", err)
		} else {
			slog.Info("scoring settings reloaded",
				"alignment", newCfg.Scoring.Alignment,
				"correct_threshold", newCfg.Scoring.CorrectThreshold)
		}
	}
	if d.AnalysisChanged {
		if err := a.local.Set(newCfg.Analysis); err != nil {
			slog.Error("analysis settings rejected", "err", err)
		} else {
			slog.Info("analysis settings reloaded", "alignment", newCfg.Analysis.Alignment)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and tears down all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		shutdownErr = a.closeAll(ctx)

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(ctx); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	return nil
}
