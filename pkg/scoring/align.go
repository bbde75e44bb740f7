package scoring

import (
	"fmt"
	"slices"

	"github.com/antzucaro/matchr"
)

// Status classifies one aligned position of a comparison.
type Status string

const (
	// StatusCorrect marks an expected word that was recognized exactly or
	// above the engine's correct threshold.
	StatusCorrect Status = "correct"

	// StatusSubstituted marks an expected word that was recognized as a
	// different word.
	StatusSubstituted Status = "substituted"

	// StatusOmitted marks an expected word with no recognized counterpart.
	StatusOmitted Status = "omitted"

	// StatusExtra marks a recognized word with no expected counterpart.
	StatusExtra Status = "extra"
)

// Error types attached to non-correct alignment entries.
const (
	ErrorMinorMispronunciation    = "minor_mispronunciation"
	ErrorModerateMispronunciation = "moderate_mispronunciation"
	ErrorMajorMispronunciation    = "major_mispronunciation"
	ErrorWordSubstitution         = "word_substitution"
	ErrorOmission                 = "omission"
	ErrorInsertion                = "insertion"
)

// AlignmentEntry is one classified correspondence between an expected and/or
// recognized word.
type AlignmentEntry struct {
	Status Status `json:"status"`

	// Expected is empty for [StatusExtra] entries.
	Expected string `json:"expected,omitempty"`

	// Recognized is empty for [StatusOmitted] entries.
	Recognized string `json:"recognized,omitempty"`

	// Similarity is the per-word similarity as a fraction in [0, 1].
	Similarity *float64 `json:"similarity,omitempty"`

	ErrorType string `json:"error_type,omitempty"`

	// PhoneticMatch reports whether a substituted word shares a Double
	// Metaphone code with the expected word, i.e. it likely sounded right.
	PhoneticMatch bool `json:"phonetic_match,omitempty"`
}

// WordPair references one aligned position by token index. An index of -1
// means the side is absent.
type WordPair struct {
	Expected   int
	Recognized int
}

// Aligner pairs expected tokens with recognized tokens. Implementations must
// cover every expected and every recognized token exactly once, in order, and
// be safe for concurrent use.
type Aligner interface {
	// Name is the policy name accepted by [AlignerByName].
	Name() string

	// Pair returns the ordered alignment of expected against recognized.
	Pair(expected, recognized []string) []WordPair
}

// Alignment policy names.
const (
	PolicyPositional = "positional"
	PolicyEditPath   = "edit_path"
)

// AlignerByName returns the [Aligner] registered under name. The empty name
// selects the positional baseline.
func AlignerByName(name string) (Aligner, error) {
	switch name {
	case "", PolicyPositional:
		return PositionalAligner{}, nil
	case PolicyEditPath:
		return EditPathAligner{}, nil
	}
	return nil, fmt.Errorf("scoring: unknown alignment policy %q", name)
}

// PositionalAligner pairs tokens by index: position i of expected is compared
// with position i of recognized. It produces exactly max(m, n) pairs.
//
// A single omitted word shifts every following word, so the tail of the
// sentence is reported as substitutions. Use [EditPathAligner] when that
// matters.
type PositionalAligner struct{}

// Name implements [Aligner].
func (PositionalAligner) Name() string { return PolicyPositional }

// Pair implements [Aligner].
func (PositionalAligner) Pair(expected, recognized []string) []WordPair {
	n := max(len(expected), len(recognized))
	pairs := make([]WordPair, n)
	for i := range n {
		p := WordPair{Expected: -1, Recognized: -1}
		if i < len(expected) {
			p.Expected = i
		}
		if i < len(recognized) {
			p.Recognized = i
		}
		pairs[i] = p
	}
	return pairs
}

// EditPathAligner runs Wagner–Fischer over whole words and back-traces the
// cheapest edit path, so insertions and deletions do not cascade into false
// substitutions. Ties prefer match, then substitution, then deletion, then
// insertion. It produces between max(m, n) and m+n pairs.
type EditPathAligner struct{}

// Name implements [Aligner].
func (EditPathAligner) Name() string { return PolicyEditPath }

// Pair implements [Aligner].
func (EditPathAligner) Pair(expected, recognized []string) []WordPair {
	src, tgt := internTokens(expected, recognized)
	m := sequenceMatrix(src, tgt)

	pairs := make([]WordPair, 0, max(len(src), len(tgt)))
	i, j := len(src), len(tgt)
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && src[i-1] == tgt[j-1] && m[i][j] == m[i-1][j-1]:
			i, j = i-1, j-1
			pairs = append(pairs, WordPair{Expected: i, Recognized: j})
		case i > 0 && j > 0 && m[i][j] == m[i-1][j-1]+1:
			i, j = i-1, j-1
			pairs = append(pairs, WordPair{Expected: i, Recognized: j})
		case i > 0 && m[i][j] == m[i-1][j]+1:
			i--
			pairs = append(pairs, WordPair{Expected: i, Recognized: -1})
		default:
			j--
			pairs = append(pairs, WordPair{Expected: -1, Recognized: j})
		}
	}
	slices.Reverse(pairs)
	return pairs
}

// internTokens maps every distinct word to its own rune so the rune-based
// Levenshtein matrix can operate on word sequences. The runes are never
// encoded, so they need not be valid code points.
func internTokens(expected, recognized []string) (src, tgt []rune) {
	ids := make(map[string]rune, len(expected)+len(recognized))
	intern := func(words []string) []rune {
		out := make([]rune, len(words))
		for k, w := range words {
			id, ok := ids[w]
			if !ok {
				id = rune(len(ids))
				ids[w] = id
			}
			out[k] = id
		}
		return out
	}
	return intern(expected), intern(recognized)
}

// classify turns aligned pairs into entries. threshold is the word similarity
// percentage at or above which a differing word still counts as correct.
func classify(expected, recognized []string, pairs []WordPair, threshold float64) []AlignmentEntry {
	entries := make([]AlignmentEntry, 0, len(pairs))
	for _, p := range pairs {
		switch {
		case p.Expected >= 0 && p.Recognized >= 0:
			entries = append(entries, compareWords(expected[p.Expected], recognized[p.Recognized], threshold))
		case p.Expected >= 0:
			entries = append(entries, AlignmentEntry{
				Status:     StatusOmitted,
				Expected:   expected[p.Expected],
				Similarity: ratio(0),
				ErrorType:  ErrorOmission,
			})
		case p.Recognized >= 0:
			entries = append(entries, AlignmentEntry{
				Status:     StatusExtra,
				Recognized: recognized[p.Recognized],
				Similarity: ratio(0),
				ErrorType:  ErrorInsertion,
			})
		}
	}
	return entries
}

func compareWords(exp, rec string, threshold float64) AlignmentEntry {
	if exp == rec {
		return AlignmentEntry{Status: StatusCorrect, Expected: exp, Recognized: rec, Similarity: ratio(1)}
	}
	sim := Similarity(exp, rec)
	if sim >= threshold {
		return AlignmentEntry{Status: StatusCorrect, Expected: exp, Recognized: rec, Similarity: ratio(sim / 100)}
	}
	return AlignmentEntry{
		Status:        StatusSubstituted,
		Expected:      exp,
		Recognized:    rec,
		Similarity:    ratio(sim / 100),
		ErrorType:     ClassifyError(sim / 100),
		PhoneticMatch: soundsAlike(exp, rec),
	}
}

// ClassifyError grades a substitution by its word similarity fraction.
func ClassifyError(similarity float64) string {
	switch {
	case similarity > 0.8:
		return ErrorMinorMispronunciation
	case similarity > 0.5:
		return ErrorModerateMispronunciation
	case similarity > 0.2:
		return ErrorMajorMispronunciation
	default:
		return ErrorWordSubstitution
	}
}

// soundsAlike reports whether a and b share a primary or secondary Double
// Metaphone code.
func soundsAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}

func ratio(v float64) *float64 { return &v }
