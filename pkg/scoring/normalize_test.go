package scoring_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/speakwell/pkg/scoring"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		in         string
		wantText   string
		wantTokens []string
	}{
		{name: "empty", in: "", wantText: "", wantTokens: nil},
		{name: "whitespace only", in: " \t\n  ", wantText: "", wantTokens: nil},
		{name: "punctuation only", in: "?!...", wantText: "", wantTokens: nil},
		{
			name:       "sentence",
			in:         "The cat sits on the mat.",
			wantText:   "the cat sits on the mat",
			wantTokens: []string{"the", "cat", "sits", "on", "the", "mat"},
		},
		{
			name:       "collapses whitespace",
			in:         "  Hello,\t\tworld!\n",
			wantText:   "hello world",
			wantTokens: []string{"hello", "world"},
		},
		{
			name:       "apostrophes and hyphens removed",
			in:         "Don't well-known",
			wantText:   "dont wellknown",
			wantTokens: []string{"dont", "wellknown"},
		},
		{
			name:       "underscore is not a letter",
			in:         "snake_case",
			wantText:   "snakecase",
			wantTokens: []string{"snakecase"},
		},
		{
			name:       "digits kept",
			in:         "Room 101",
			wantText:   "room 101",
			wantTokens: []string{"room", "101"},
		},
		{
			name:       "unicode letters kept",
			in:         "Ça va, GRÜẞE!",
			wantText:   "ça va grüße",
			wantTokens: []string{"ça", "va", "grüße"},
		},
		{
			name:       "decomposed accent composes",
			in:         "Cafe\u0301",
			wantText:   "caf\u00e9",
			wantTokens: []string{"caf\u00e9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotText, gotTokens := scoring.Normalize(tt.in)
			if gotText != tt.wantText {
				t.Errorf("Normalize(%q) text = %q, want %q", tt.in, gotText, tt.wantText)
			}
			if !slices.Equal(gotTokens, tt.wantTokens) {
				t.Errorf("Normalize(%q) tokens = %q, want %q", tt.in, gotTokens, tt.wantTokens)
			}
		})
	}
}

func TestNormalize_TextMatchesTokens(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"A  quick\tbrown fox;  jumps.",
		"¿Qué tal?",
		"line one\nline two\r\nline three",
	}
	for _, in := range inputs {
		text, tokens := scoring.Normalize(in)
		if text != strings.Join(tokens, " ") {
			t.Errorf("Normalize(%q): text %q != joined tokens %q", in, text, tokens)
		}
		for _, tok := range tokens {
			if tok == "" {
				t.Errorf("Normalize(%q): empty token in %q", in, tokens)
			}
		}
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	t.Parallel()

	in := "Peter Piper picked a peck of pickled peppers!"
	wantText, wantTokens := scoring.Normalize(in)
	for range 10 {
		text, tokens := scoring.Normalize(in)
		if text != wantText || !slices.Equal(tokens, wantTokens) {
			t.Fatalf("Normalize(%q) not deterministic: %q vs %q", in, text, wantText)
		}
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	got := scoring.Tokens("I like apples.")
	want := []string{"i", "like", "apples"}
	if !slices.Equal(got, want) {
		t.Errorf("Tokens = %q, want %q", got, want)
	}
}
