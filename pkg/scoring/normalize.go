package scoring

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases text and strips every rune that is not a letter, digit
// or whitespace. Runs of whitespace collapse to a single space and the result
// is trimmed, so the returned text always equals strings.Join(tokens, " ").
//
// Input is NFC-composed first so that a precomposed "é" (U+00E9) and "e"
// followed by U+0301 normalise identically instead of the combining mark
// being stripped.
//
// Empty or whitespace-only input yields "" and a nil token slice.
func Normalize(text string) (string, []string) {
	if text == "" {
		return "", nil
	}

	// cases.Caser is stateful; build one per call.
	lowered := cases.Lower(language.Und).String(norm.NFC.String(text))

	stripped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, lowered)

	tokens := strings.Fields(stripped)
	if len(tokens) == 0 {
		return "", nil
	}
	return strings.Join(tokens, " "), tokens
}

// Tokens is a convenience wrapper returning only the token slice of
// [Normalize].
func Tokens(text string) []string {
	_, tokens := Normalize(text)
	return tokens
}
