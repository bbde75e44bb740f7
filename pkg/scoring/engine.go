// Package scoring compares an expected text against the text a speech
// recognizer produced and grades the attempt.
//
// A comparison proceeds in four stages:
//
//  1. Normalisation: both texts are lowercased, stripped of everything but
//     letters, digits and whitespace, and split into word tokens.
//  2. Edit distance: the normalised texts are compared rune by rune with the
//     Levenshtein distance, giving the pronunciation score.
//  3. Word alignment: an [Aligner] pairs expected and recognized words and
//     each pair is classified as correct, substituted, omitted or extra.
//  4. Aggregation: word counts give the completeness and fluency scores, and
//     a fixed rule ladder turns the three scores into feedback messages.
//
// The engine performs no I/O and holds no mutable state. It is the offline
// fallback for the remote analysis service and is safe for concurrent use.
package scoring

import (
	"errors"
	"math"
	"unicode/utf8"
)

// ErrInvalidInput is returned when a text is not valid UTF-8 or, at API
// boundaries, when a text is missing altogether.
var ErrInvalidInput = errors.New("scoring: invalid input")

const defaultCorrectThreshold = 90.0

// Feedback messages produced by [Engine.Compare], in ladder order.
const (
	FeedbackPronunciationExcellent = "🎉 Excellent pronunciation! Your speech is very clear and accurate."
	FeedbackPronunciationGood      = "👍 Good pronunciation! Minor improvements could make it even better."
	FeedbackPronunciationPractice  = "💪 Keep practicing! Focus on pronouncing each word clearly."
	FeedbackFluencyGreat           = "🌟 Great fluency! Your speech rhythm is natural."
	FeedbackFluencyPace            = "⏱️ Try to maintain a steady pace while speaking."
	FeedbackCompletenessFull       = "✅ You read the complete text accurately!"
	FeedbackCompletenessMissing    = "📖 Try to read all the words in the text."
)

// Result is the outcome of one comparison.
type Result struct {
	PronunciationScore int              `json:"pronunciation_score"`
	FluencyScore       int              `json:"fluency_score"`
	CompletenessScore  int              `json:"completeness_score"`
	Feedback           []string         `json:"feedback"`
	WordAnalysis       []AlignmentEntry `json:"word_analysis"`
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithAligner selects the word alignment policy. Default: [PositionalAligner].
func WithAligner(a Aligner) Option {
	return func(e *Engine) {
		if a != nil {
			e.aligner = a
		}
	}
}

// WithCorrectThreshold sets the word similarity percentage at or above which
// a differing recognized word is still classified as correct. Default: 90.
func WithCorrectThreshold(pct float64) Option {
	return func(e *Engine) {
		e.threshold = clamp(pct, 0, 100)
	}
}

// Engine scores recognized text against expected text. It is read-only after
// construction.
type Engine struct {
	aligner   Aligner
	threshold float64
}

// New returns an [Engine] configured with opts.
func New(opts ...Option) *Engine {
	e := &Engine{
		aligner:   PositionalAligner{},
		threshold: defaultCorrectThreshold,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Aligner returns the alignment policy used by e.
func (e *Engine) Aligner() Aligner { return e.aligner }

// Compare scores recognized against expected. It fails only with
// [ErrInvalidInput] when either text is not valid UTF-8; every valid pair,
// including empty strings, produces a result.
func (e *Engine) Compare(expected, recognized string) (*Result, error) {
	if !utf8.ValidString(expected) || !utf8.ValidString(recognized) {
		return nil, ErrInvalidInput
	}

	expText, expWords := Normalize(expected)
	recText, recWords := Normalize(recognized)

	pron := roundScore(Similarity(expText, recText))
	comp := CompletenessScore(len(expWords), len(recWords))
	flu := FluencyScore(len(expWords), len(recWords))

	pairs := e.aligner.Pair(expWords, recWords)

	return &Result{
		PronunciationScore: pron,
		FluencyScore:       flu,
		CompletenessScore:  comp,
		Feedback:           Feedback(pron, flu, comp),
		WordAnalysis:       classify(expWords, recWords, pairs, e.threshold),
	}, nil
}

// CompletenessScore is the share of expected words that were recognized,
// saturating at 100. With no expected words there is nothing to miss, so the
// score is 100.
func CompletenessScore(expectedWords, recognizedWords int) int {
	if expectedWords == 0 {
		return 100
	}
	return min(100, roundScore(float64(recognizedWords)/float64(expectedWords)*100))
}

// FluencyScore penalises every word of difference between the expected and
// recognized counts by 10 points.
func FluencyScore(expectedWords, recognizedWords int) int {
	delta := expectedWords - recognizedWords
	if delta < 0 {
		delta = -delta
	}
	return max(0, 100-10*delta)
}

// Feedback returns one message per score, in pronunciation, fluency,
// completeness order.
func Feedback(pronunciation, fluency, completeness int) []string {
	fb := make([]string, 0, 3)

	switch {
	case pronunciation >= 90:
		fb = append(fb, FeedbackPronunciationExcellent)
	case pronunciation >= 70:
		fb = append(fb, FeedbackPronunciationGood)
	default:
		fb = append(fb, FeedbackPronunciationPractice)
	}

	if fluency >= 80 {
		fb = append(fb, FeedbackFluencyGreat)
	} else {
		fb = append(fb, FeedbackFluencyPace)
	}

	if completeness >= 90 {
		fb = append(fb, FeedbackCompletenessFull)
	} else {
		fb = append(fb, FeedbackCompletenessMissing)
	}

	return fb
}

func roundScore(v float64) int {
	return int(clamp(math.Round(v), 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
