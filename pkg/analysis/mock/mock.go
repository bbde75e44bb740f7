// Package mock provides a test double for the analysis.Analyzer interface.
//
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	a := &mock.Analyzer{
//	    Report: &analysis.Report{PronunciationScore: 90},
//	}
//	r, err := a.Analyze(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/speakwell/pkg/analysis"
)

// AnalyzeCall records a single invocation of Analyze.
type AnalyzeCall struct {
	// Ctx is the context passed to Analyze.
	Ctx context.Context
	// Req is the Request passed to Analyze.
	Req analysis.Request
}

// Analyzer is a mock implementation of analysis.Analyzer.
type Analyzer struct {
	mu sync.Mutex

	// Report is returned by Analyze. May be nil (returns nil, Err).
	Report *analysis.Report

	// Err, if non-nil, is returned as the error from Analyze.
	Err error

	// Delay, if positive, makes Analyze wait before answering. The wait is cut
	// short by ctx cancellation, in which case ctx.Err() is returned.
	Delay time.Duration

	// Calls records every invocation of Analyze in order.
	Calls []AnalyzeCall
}

// Analyze records the call and returns Report, Err.
func (a *Analyzer) Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
	a.mu.Lock()
	a.Calls = append(a.Calls, AnalyzeCall{Ctx: ctx, Req: req})
	delay, report, err := a.Delay, a.Report, a.Err
	a.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return report, err
}

// CallCount returns the number of recorded Analyze calls. Thread-safe.
func (a *Analyzer) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = nil
}

// Ensure Analyzer implements analysis.Analyzer at compile time.
var _ analysis.Analyzer = (*Analyzer)(nil)
