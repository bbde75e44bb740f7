package analysis

import (
	"unicode/utf8"

	"github.com/MrWong99/speakwell/pkg/scoring"
)

// ComputeMetrics derives the error-rate metrics from normalised texts and
// their tokens.
//
//   - WER is the word-level edit distance divided by the expected word count.
//     With no expected words it is 0 when nothing was recognized either, else 1.
//   - CER is the rune-level edit distance divided by the expected rune count
//     (at least 1).
//   - BLEU is approximated as max(0, 1-WER).
//   - SemanticSimilarity is the share of distinct expected words that were
//     recognized anywhere. It is 1 when both sides are empty.
func ComputeMetrics(expText string, expWords []string, recText string, recWords []string) Metrics {
	var m Metrics

	switch {
	case len(expWords) > 0:
		m.WER = float64(scoring.WordDistance(expWords, recWords)) / float64(len(expWords))
	case len(recWords) > 0:
		m.WER = 1
	}

	m.CER = float64(scoring.Distance(expText, recText)) / float64(max(utf8.RuneCountInString(expText), 1))
	m.BLEU = max(0, 1-m.WER)
	m.SemanticSimilarity = wordOverlap(expWords, recWords)
	return m
}

func wordOverlap(expected, recognized []string) float64 {
	exp := make(map[string]struct{}, len(expected))
	for _, w := range expected {
		exp[w] = struct{}{}
	}
	if len(exp) == 0 {
		if len(recognized) == 0 {
			return 1
		}
		return 0
	}

	seen := make(map[string]struct{}, len(recognized))
	for _, w := range recognized {
		if _, ok := exp[w]; ok {
			seen[w] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(len(exp))
}

// Pace ratings reported in [Timing].
const (
	PaceTooFast = "too_fast"
	PaceTooSlow = "too_slow"
	PaceGood    = "good"
)

// EstimateTiming rates the speaking pace from word counts, assuming every
// word takes secondsPerWord to say.
func EstimateTiming(expectedWords, recognizedWords int, secondsPerWord float64) Timing {
	estimated := float64(expectedWords) * secondsPerWord
	actual := float64(recognizedWords) * secondsPerWord

	ratio := 1.0
	if estimated > 0 {
		ratio = actual / estimated
	}

	var wpm float64
	if actual > 0 {
		wpm = float64(recognizedWords) / actual * 60
	}

	t := Timing{
		EstimatedDuration: roundTo(estimated, 1),
		ActualDuration:    roundTo(actual, 1),
		WordsPerMinute:    roundTo(wpm, 1),
		RateRatio:         roundTo(ratio, 2),
	}
	switch {
	case ratio < 0.7:
		t.PaceRating = PaceTooFast
		t.PaceFeedback = "Try speaking more slowly for better clarity."
	case ratio > 1.3:
		t.PaceRating = PaceTooSlow
		t.PaceFeedback = "You can speak a bit faster while maintaining clarity."
	default:
		t.PaceRating = PaceGood
		t.PaceFeedback = "Your speaking pace is good!"
	}
	return t
}
