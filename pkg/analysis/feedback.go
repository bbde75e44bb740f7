package analysis

import (
	"fmt"

	"github.com/MrWong99/speakwell/pkg/scoring"
)

// NoSpeechFeedback is the only feedback of a report for an empty recognition.
const NoSpeechFeedback = "No speech was recognized. Please try again."

// maxTips caps the number of words called out by [Tips].
const maxTips = 3

// Feedback builds the detailed feedback list: one overall message followed
// by word accuracy, character clarity and content coverage remarks.
func Feedback(pronunciation, fluency, completeness float64, m Metrics) []string {
	fb := make([]string, 0, 4)

	switch avg := (pronunciation + fluency + completeness) / 3; {
	case avg >= 90:
		fb = append(fb, "🎉 Outstanding performance! Your pronunciation is excellent.")
	case avg >= 80:
		fb = append(fb, "👍 Great job! Your pronunciation is very good with minor areas for improvement.")
	case avg >= 70:
		fb = append(fb, "👌 Good work! Keep practicing to enhance your pronunciation further.")
	case avg >= 60:
		fb = append(fb, "💪 You're making progress! Focus on clarity and accuracy.")
	default:
		fb = append(fb, "🎯 Keep practicing! Take your time and speak clearly.")
	}

	switch {
	case m.WER < 0.1:
		fb = append(fb, "✨ Excellent word accuracy! Almost perfect recognition.")
	case m.WER < 0.3:
		fb = append(fb, "👏 Good word accuracy with room for minor improvements.")
	case m.WER < 0.5:
		fb = append(fb, "📈 Moderate accuracy. Focus on pronouncing each word clearly.")
	default:
		fb = append(fb, "🔤 Work on word clarity. Practice difficult words separately.")
	}

	if m.CER < 0.1 {
		fb = append(fb, "🎯 Excellent pronunciation clarity!")
	} else if m.CER > 0.3 {
		fb = append(fb, "🗣️ Focus on articulating sounds more clearly.")
	}

	if m.SemanticSimilarity > 0.8 {
		fb = append(fb, "💡 Great content understanding and delivery!")
	} else if m.SemanticSimilarity < 0.5 {
		fb = append(fb, "📖 Make sure to include all the key words from the text.")
	}

	return fb
}

// Suggestion returns practice advice for one non-correct word.
func Suggestion(e scoring.AlignmentEntry) string {
	switch e.ErrorType {
	case scoring.ErrorOmission:
		return fmt.Sprintf("Don't skip the word '%s'. Practice saying it slowly.", e.Expected)
	case scoring.ErrorInsertion:
		return fmt.Sprintf("Avoid adding extra words like '%s'. Stick to the text.", e.Recognized)
	case scoring.ErrorMinorMispronunciation:
		return fmt.Sprintf("Good attempt at '%s'! Try to pronounce it more clearly.", e.Expected)
	case scoring.ErrorModerateMispronunciation:
		return fmt.Sprintf("Practice the pronunciation of '%s'. You said '%s'.", e.Expected, e.Recognized)
	case scoring.ErrorMajorMispronunciation:
		return fmt.Sprintf("Focus on '%s' - break it into syllables and practice slowly.", e.Expected)
	default:
		return fmt.Sprintf("Try to say '%s' instead of '%s'.", e.Expected, e.Recognized)
	}
}

func errorDetails(words []scoring.AlignmentEntry) []ErrorDetail {
	details := []ErrorDetail{}
	for _, w := range words {
		if w.Status == scoring.StatusCorrect {
			continue
		}
		details = append(details, ErrorDetail{
			Type:       w.ErrorType,
			Expected:   w.Expected,
			Recognized: w.Recognized,
			Similarity: similarityOf(w),
			Suggestion: Suggestion(w),
		})
	}
	return details
}

// Tips names up to three substituted or omitted words that were less than
// 70% similar to what was said.
func Tips(words []scoring.AlignmentEntry) []string {
	var tips []string
	for _, w := range words {
		if len(tips) == maxTips+1 {
			break
		}
		if w.Status != scoring.StatusSubstituted && w.Status != scoring.StatusOmitted {
			continue
		}
		if similarityOf(w) >= 0.7 || w.Expected == "" {
			continue
		}
		if tips == nil {
			tips = append(tips, "Focus on these challenging words:")
		}
		tips = append(tips, fmt.Sprintf("• Practice saying '%s' clearly", w.Expected))
	}
	return tips
}

func similarityOf(w scoring.AlignmentEntry) float64 {
	if w.Similarity == nil {
		return 0
	}
	return *w.Similarity
}
