// Package analysis defines the Analyzer interface for full pronunciation
// analysis backends and the Report they produce.
//
// A Report is a superset of [scoring.Result]: on top of the three headline
// scores it carries word and character error rates, an overall score, error
// details with suggestions and a timing estimate. [Local] computes a Report
// in-process; the remote sub-package talks to an analysis service over HTTP.
//
// Implementations must be safe for concurrent use.
package analysis

import (
	"context"
	"errors"
	"math"

	"github.com/MrWong99/speakwell/pkg/scoring"
)

// ErrMissingText is returned when the expected text is empty.
var ErrMissingText = errors.New("analysis: missing expected text")

// Report sources.
const (
	SourceLocal   = "local"
	SourceRemote  = "remote"
	SourceOffline = "offline"
)

// Analyzer is the abstraction over any pronunciation analysis backend.
type Analyzer interface {
	// Analyze grades req. It returns [ErrMissingText] when the expected text is
	// blank and honours ctx cancellation.
	Analyze(ctx context.Context, req Request) (*Report, error)
}

// Request is the input of one analysis.
type Request struct {
	ExpectedText   string `json:"expected_text"`
	RecognizedText string `json:"recognized_text"`
}

// Metrics are the unrounded error-rate metrics behind a Report.
type Metrics struct {
	WER                float64 `json:"wer"`
	CER                float64 `json:"cer"`
	BLEU               float64 `json:"bleu"`
	SemanticSimilarity float64 `json:"semantic_similarity"`
}

// Timing estimates speaking pace from word counts alone.
type Timing struct {
	EstimatedDuration float64 `json:"estimated_duration"`
	ActualDuration    float64 `json:"actual_duration"`
	WordsPerMinute    float64 `json:"words_per_minute"`
	PaceRating        string  `json:"pace_rating"`
	PaceFeedback      string  `json:"pace_feedback"`
	RateRatio         float64 `json:"rate_ratio"`
}

// ErrorDetail explains one non-correct word.
type ErrorDetail struct {
	Type       string  `json:"type"`
	Expected   string  `json:"expected"`
	Recognized string  `json:"recognized"`
	Similarity float64 `json:"similarity"`
	Suggestion string  `json:"suggestion"`
}

// Report is the outcome of one analysis.
type Report struct {
	PronunciationScore float64 `json:"pronunciation_score"`
	FluencyScore       float64 `json:"fluency_score"`
	CompletenessScore  float64 `json:"completeness_score"`
	OverallScore       float64 `json:"overall_score"`

	WER                float64  `json:"wer"`
	CER                float64  `json:"cer"`
	BLEUScore          *float64 `json:"bleu_score,omitempty"`
	SemanticSimilarity *float64 `json:"semantic_similarity,omitempty"`
	AccuracyPercentage *float64 `json:"accuracy_percentage,omitempty"`

	Feedback     []string                 `json:"feedback"`
	Tips         []string                 `json:"tips,omitempty"`
	WordAnalysis []scoring.AlignmentEntry `json:"word_analysis"`
	ErrorDetails []ErrorDetail            `json:"error_details"`
	Timing       *Timing                  `json:"timing_analysis,omitempty"`
	Metrics      *Metrics                 `json:"advanced_metrics,omitempty"`

	ExpectedWords   int `json:"expected_words"`
	RecognizedWords int `json:"recognized_words"`

	// RecognizedText echoes the request.
	RecognizedText string `json:"recognized_text,omitempty"`

	// Source names the backend that produced the report.
	Source string `json:"source,omitempty"`
}

// Scores projects r onto the compact engine result shape. Scores are rounded
// to whole points and the feedback ladder is recomputed from them.
func (r *Report) Scores() *scoring.Result {
	p := roundPoints(r.PronunciationScore)
	f := roundPoints(r.FluencyScore)
	c := roundPoints(r.CompletenessScore)
	words := r.WordAnalysis
	if words == nil {
		words = []scoring.AlignmentEntry{}
	}
	return &scoring.Result{
		PronunciationScore: p,
		FluencyScore:       f,
		CompletenessScore:  c,
		Feedback:           scoring.Feedback(p, f, c),
		WordAnalysis:       words,
	}
}

// FromResult wraps an engine result in a Report. Only the headline scores,
// the overall score and the word analysis are populated.
func FromResult(res *scoring.Result, source string) *Report {
	p := float64(res.PronunciationScore)
	f := float64(res.FluencyScore)
	c := float64(res.CompletenessScore)
	return &Report{
		PronunciationScore: p,
		FluencyScore:       f,
		CompletenessScore:  c,
		OverallScore:       overall(p, f, c),
		Feedback:           res.Feedback,
		WordAnalysis:       res.WordAnalysis,
		ErrorDetails:       errorDetails(res.WordAnalysis),
		Source:             source,
	}
}

// overall is the weighted headline score, rounded to one decimal.
func overall(p, f, c float64) float64 {
	return roundTo(0.4*p+0.3*f+0.3*c, 1)
}

func roundPoints(v float64) int {
	return int(math.Max(0, math.Min(100, math.Round(v))))
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func ptr(v float64) *float64 { return &v }
