package resilience

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrWong99/speakwell/pkg/analysis"
	"github.com/MrWong99/speakwell/pkg/analysis/remote"
	"github.com/MrWong99/speakwell/pkg/scoring"
)

// AnalyzerFallback implements [analysis.Analyzer] with automatic failover
// across analysis backends, typically the remote service followed by the
// in-process [analysis.Local].
type AnalyzerFallback struct {
	group *FallbackGroup[analysis.Analyzer]
}

var _ analysis.Analyzer = (*AnalyzerFallback)(nil)

// NewAnalyzerFallback creates an [AnalyzerFallback] with primary as the
// preferred backend. Unless cfg sets its own classifier, request errors (see
// [IsRequestError]) do not count against a backend.
func NewAnalyzerFallback(primary analysis.Analyzer, primaryName string, cfg FallbackConfig) *AnalyzerFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool { return !IsRequestError(err) }
	}
	return &AnalyzerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional analyzer.
func (f *AnalyzerFallback) AddFallback(name string, a analysis.Analyzer) {
	f.group.AddFallback(name, a)
}

// Analyze sends req to the first healthy analyzer.
func (f *AnalyzerFallback) Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
	return ExecuteWithResult(f.group, func(a analysis.Analyzer) (*analysis.Report, error) {
		return a.Analyze(ctx, req)
	})
}

// States returns the breaker state per backend name.
func (f *AnalyzerFallback) States() map[string]State {
	return f.group.States()
}

// Backends returns the backend names in try order.
func (f *AnalyzerFallback) Backends() []string {
	return f.group.Names()
}

// IsRequestError reports whether err was caused by the request rather than
// the backend: missing or malformed text, a caller cancellation, or a remote
// answer of 400, 413 or 422. Other 4xx answers such as 401, 403 and 404
// point at the client's configuration and count as backend failures.
func IsRequestError(err error) bool {
	if errors.Is(err, analysis.ErrMissingText) ||
		errors.Is(err, scoring.ErrInvalidInput) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var se *remote.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return true
		}
	}
	return false
}
