// Package coach runs one practice attempt end to end: it asks the analyzer
// chain for a report, falls back to the offline scoring engine when every
// analyzer fails, records metrics and persists the attempt as a practice
// session.
//
// The HTTP API, the live practice stream and the CLI all go through a
// [Coach] so that the fallback and persistence rules are applied the same way
// everywhere.
package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/practice"
	"github.com/MrWong99/speakwell/internal/resilience"
	"github.com/MrWong99/speakwell/pkg/analysis"
	"github.com/MrWong99/speakwell/pkg/scoring"
)

// DefaultTimeout bounds one analysis including remote failover.
const DefaultTimeout = 10 * time.Second

// Attempt is one practice attempt submitted by a learner.
type Attempt struct {
	analysis.Request

	// UserID optionally attributes the attempt to a learner.
	UserID string `json:"user_id,omitempty"`
}

// Outcome is the analysed attempt.
type Outcome struct {
	*analysis.Report

	// SessionID is the persisted practice session, empty when no store is
	// configured or persisting failed.
	SessionID string `json:"session_id,omitempty"`
}

// scoringSettings is swapped atomically on hot reload.
type scoringSettings struct {
	engine    *scoring.Engine
	threshold float64
}

// Coach is safe for concurrent use.
type Coach struct {
	analyzer analysis.Analyzer
	store    practice.Store
	metrics  *observe.Metrics
	timeout  time.Duration
	scoring  atomic.Pointer[scoringSettings]
}

// Option is a functional option for configuring a [Coach].
type Option func(*Coach)

// WithAnalyzer sets the analyzer chain. Without one, every attempt is scored
// by the offline engine.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(c *Coach) { c.analyzer = a }
}

// WithStore persists every analysed attempt to s.
func WithStore(s practice.Store) Option {
	return func(c *Coach) { c.store = s }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coach) { c.metrics = m }
}

// WithTimeout bounds each analysis. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Coach) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithScoring configures the offline engine. See [Coach.SetScoring].
func WithScoring(alignment string, threshold float64) Option {
	return func(c *Coach) {
		if err := c.SetScoring(alignment, threshold); err != nil {
			observe.Logger(context.Background()).Warn("coach: ignoring scoring option", "err", err)
		}
	}
}

// New creates a [Coach]. The offline engine defaults to positional
// alignment with the default correct threshold.
func New(opts ...Option) *Coach {
	c := &Coach{timeout: DefaultTimeout}
	c.scoring.Store(&scoringSettings{engine: scoring.New()})
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// SetScoring replaces the offline engine. An empty alignment selects the
// positional policy; a zero threshold selects the engine default.
func (c *Coach) SetScoring(alignment string, threshold float64) error {
	eng, err := newEngine(alignment, threshold)
	if err != nil {
		return err
	}
	c.scoring.Store(&scoringSettings{engine: eng, threshold: threshold})
	return nil
}

// Engine returns the current offline engine.
func (c *Coach) Engine() *scoring.Engine {
	return c.scoring.Load().engine
}

func newEngine(alignment string, threshold float64) (*scoring.Engine, error) {
	if alignment == "" {
		alignment = scoring.PolicyPositional
	}
	a, err := scoring.AlignerByName(alignment)
	if err != nil {
		return nil, fmt.Errorf("coach: %w", err)
	}
	opts := []scoring.Option{scoring.WithAligner(a)}
	if threshold > 0 {
		opts = append(opts, scoring.WithCorrectThreshold(threshold))
	}
	return scoring.New(opts...), nil
}

// Analyze produces the report for att and persists it.
//
// Request errors (see [resilience.IsRequestError]) are returned unchanged.
// Any other analyzer failure is logged and the offline engine answers
// instead, with the report's Source set to [analysis.SourceOffline].
func (c *Coach) Analyze(ctx context.Context, att Attempt) (out *Outcome, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "coach.analyze")
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx)

	if strings.TrimSpace(att.ExpectedText) == "" {
		return nil, analysis.ErrMissingText
	}

	rep, err := c.runAnalyzer(ctx, att.Request)
	if err != nil {
		if resilience.IsRequestError(err) || ctx.Err() != nil {
			c.metrics.RecordAnalysis(ctx, sourceOf(err), observe.StatusError, time.Since(start))
			return nil, err
		}
		log.Warn("coach: analyzers failed, scoring offline", "err", err)
		res, cerr := c.compare(ctx, att.ExpectedText, att.RecognizedText, nil)
		if cerr != nil {
			c.metrics.RecordAnalysis(ctx, analysis.SourceOffline, observe.StatusError, time.Since(start))
			return nil, cerr
		}
		rep = analysis.FromResult(res, analysis.SourceOffline)
		c.metrics.RecordFallback(ctx)
	}
	rep.RecognizedText = att.RecognizedText
	span.SetAttributes(observe.AttrAnalysisSource.String(string(rep.Source)))

	c.metrics.RecordAnalysis(ctx, rep.Source, observe.StatusOK, time.Since(start))
	c.metrics.RecordScores(ctx, rep.PronunciationScore, rep.FluencyScore, rep.CompletenessScore)

	out = &Outcome{Report: rep}
	if c.store != nil {
		sess := practice.NewSession(att.UserID, att.Request, rep)
		if err := c.store.Save(ctx, sess); err != nil {
			log.Warn("coach: could not persist practice session", "err", err)
			c.metrics.RecordSessionSaved(ctx, observe.StatusError)
		} else {
			out.SessionID = sess.ID
			c.metrics.RecordSessionSaved(ctx, observe.StatusOK)
		}
	}
	return out, nil
}

// runAnalyzer calls the analyzer chain under the coach timeout.
func (c *Coach) runAnalyzer(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
	if c.analyzer == nil {
		return nil, errNoAnalyzer
	}
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rep, err := c.analyzer.Analyze(actx, req)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, errors.New("coach: analyzer returned no report")
	}
	return rep, nil
}

var errNoAnalyzer = errors.New("coach: no analyzer configured")

// Score compares the two texts with the offline engine only. A non-empty
// alignment overrides the configured policy for this call.
func (c *Coach) Score(ctx context.Context, expected, recognized, alignment string) (res *scoring.Result, err error) {
	ctx, span := observe.StartSpan(ctx, "coach.score")
	defer func() { observe.EndSpan(span, err) }()

	var eng *scoring.Engine
	if alignment != "" {
		span.SetAttributes(observe.AttrAlignment.String(alignment))
		eng, err = newEngine(alignment, c.scoring.Load().threshold)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", scoring.ErrInvalidInput, err)
		}
	}
	res, err = c.compare(ctx, expected, recognized, eng)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordScores(ctx,
		float64(res.PronunciationScore), float64(res.FluencyScore), float64(res.CompletenessScore))
	return res, nil
}

// compare runs eng, or the configured engine when eng is nil.
func (c *Coach) compare(ctx context.Context, expected, recognized string, eng *scoring.Engine) (*scoring.Result, error) {
	if eng == nil {
		eng = c.Engine()
	}
	res, err := eng.Compare(expected, recognized)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordComparison(ctx, eng.Aligner().Name())
	return res, nil
}

// sourceOf labels failed analyses in metrics.
func sourceOf(err error) string {
	if errors.Is(err, analysis.ErrMissingText) || errors.Is(err, scoring.ErrInvalidInput) {
		return "request"
	}
	return "chain"
}
