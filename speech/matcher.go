package speech

import (
	"strings"
	"unicode"
)

// PhraseMatcher reports a match when the normalised transcript contains
// the normalised expected phrase. Normalisation lowercases, turns
// punctuation into spaces and collapses runs of whitespace, so
// "Thank you, for calling!" matches "thank you for calling".
type PhraseMatcher struct{}

// NewPhraseMatcher returns a matcher.
func NewPhraseMatcher() *PhraseMatcher {
	return &PhraseMatcher{}
}

// Matches implements IPhraseMatcher. An empty expected phrase never matches.
func (PhraseMatcher) Matches(expected, transcript string) bool {
	want := Normalize(expected)
	if want == "" {
		return false
	}
	return strings.Contains(" "+Normalize(transcript)+" ", " "+want+" ")
}

// Normalize lowercases s, replaces everything but letters, digits and
// apostrophes with spaces and collapses whitespace.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'':
			return -1
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
