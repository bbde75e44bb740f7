package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/speakwell/pkg/scoring"
)

// DefaultSecondsPerWord is the assumed average time to say one word.
const DefaultSecondsPerWord = 0.6

var _ Analyzer = (*Local)(nil)

// LocalOption is a functional option for [Local].
type LocalOption func(*Local)

// WithEngine sets the scoring engine. Default: an engine using
// [scoring.EditPathAligner].
func WithEngine(e *scoring.Engine) LocalOption {
	return func(l *Local) {
		if e != nil {
			l.engine = e
		}
	}
}

// WithSecondsPerWord sets the pace assumed by the timing estimate. Values
// <= 0 are ignored.
func WithSecondsPerWord(s float64) LocalOption {
	return func(l *Local) {
		if s > 0 {
			l.secondsPerWord = s
		}
	}
}

// Local computes full reports in-process on top of a [scoring.Engine].
type Local struct {
	engine         *scoring.Engine
	secondsPerWord float64
}

// NewLocal returns a [Local] analyzer configured with opts.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		engine:         scoring.New(scoring.WithAligner(scoring.EditPathAligner{})),
		secondsPerWord: DefaultSecondsPerWord,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Analyze implements [Analyzer]. A blank recognized text yields a zero report
// carrying [NoSpeechFeedback] rather than an error.
func (l *Local) Analyze(ctx context.Context, req Request) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ExpectedText) == "" {
		return nil, ErrMissingText
	}
	if strings.TrimSpace(req.RecognizedText) == "" {
		return noSpeechReport(), nil
	}

	res, err := l.engine.Compare(req.ExpectedText, req.RecognizedText)
	if err != nil {
		return nil, fmt.Errorf("analysis: compare: %w", err)
	}

	expText, expWords := scoring.Normalize(req.ExpectedText)
	recText, recWords := scoring.Normalize(req.RecognizedText)
	m := ComputeMetrics(expText, expWords, recText, recWords)

	p := float64(res.PronunciationScore)
	f := float64(res.FluencyScore)
	c := float64(res.CompletenessScore)
	timing := EstimateTiming(len(expWords), len(recWords), l.secondsPerWord)

	return &Report{
		PronunciationScore: p,
		FluencyScore:       f,
		CompletenessScore:  c,
		OverallScore:       overall(p, f, c),
		WER:                roundTo(m.WER, 3),
		CER:                roundTo(m.CER, 3),
		BLEUScore:          ptr(roundTo(m.BLEU, 3)),
		SemanticSimilarity: ptr(roundTo(m.SemanticSimilarity, 3)),
		AccuracyPercentage: ptr(roundTo(max(0, 1-m.WER)*100, 1)),
		Feedback:           Feedback(p, f, c, m),
		Tips:               Tips(res.WordAnalysis),
		WordAnalysis:       res.WordAnalysis,
		ErrorDetails:       errorDetails(res.WordAnalysis),
		Timing:             &timing,
		Metrics:            &m,
		ExpectedWords:      len(expWords),
		RecognizedWords:    len(recWords),
		Source:             SourceLocal,
	}, nil
}

func noSpeechReport() *Report {
	return &Report{
		WER:          1,
		CER:          1,
		Feedback:     []string{NoSpeechFeedback},
		WordAnalysis: []scoring.AlignmentEntry{},
		ErrorDetails: []ErrorDetail{},
		Source:       SourceLocal,
	}
}
