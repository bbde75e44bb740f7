package scoring

import (
	"unicode/utf8"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// unitCost weighs insertions, deletions and substitutions equally, which is
// the classic Levenshtein distance. The library default charges 2 for a
// substitution.
var unitCost = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// Distance returns the minimum number of single-rune insertions, deletions
// and substitutions needed to turn a into b. The result is 0 iff a == b.
//
// Both strings are compared rune by rune; time and space are
// O(len(a)·len(b)).
func Distance(a, b string) int {
	if a == b {
		return 0
	}
	return levenshtein.DistanceForStrings([]rune(a), []rune(b), unitCost)
}

// Similarity converts the edit distance between a and b into a percentage:
//
//	(max(len(a), len(b)) - Distance(a, b)) / max(len(a), len(b)) * 100
//
// Lengths are counted in runes. Two empty strings are 100% similar.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 100
	}
	return float64(longest-Distance(a, b)) / float64(longest) * 100
}

// WordDistance is the Levenshtein distance between two token sequences, where
// each whole word counts as one symbol.
func WordDistance(expected, recognized []string) int {
	src, tgt := internTokens(expected, recognized)
	return levenshtein.DistanceForStrings(src, tgt, unitCost)
}

// sequenceMatrix returns the Levenshtein DP table for two rune sequences.
// Row i, column j holds the cost of turning the first i runes of source into
// the first j runes of target.
func sequenceMatrix(source, target []rune) [][]int {
	return levenshtein.MatrixForStrings(source, target, unitCost)
}
