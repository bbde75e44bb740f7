package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/pkg/analysis"
	"github.com/MrWong99/speakwell/pkg/scoring"
)

// localAnalyzer is an [analysis.Analyzer] whose settings can be replaced
// while requests are in flight. Each call uses the settings current when it
// started.
type localAnalyzer struct {
	cur atomic.Pointer[analysis.Local]
}

var _ analysis.Analyzer = (*localAnalyzer)(nil)

func newLocalAnalyzer(cfg config.AnalysisConfig) (*localAnalyzer, error) {
	l := &localAnalyzer{}
	if err := l.Set(cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// Set swaps in a Local built from cfg. On error the previous settings stay.
func (l *localAnalyzer) Set(cfg config.AnalysisConfig) error {
	aligner, err := scoring.AlignerByName(cfg.Alignment)
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	l.cur.Store(analysis.NewLocal(
		analysis.WithEngine(scoring.New(scoring.WithAligner(aligner))),
		analysis.WithSecondsPerWord(cfg.SecondsPerWord),
	))
	return nil
}

// Analyze implements [analysis.Analyzer].
func (l *localAnalyzer) Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
	return l.cur.Load().Analyze(ctx, req)
}
