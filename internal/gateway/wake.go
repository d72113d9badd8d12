package gateway

import (
	"strings"
	"unicode"
)

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, isPunct))
}

// MatchWake reports whether text starts with one of the wake words on a word
// boundary, ignoring case and punctuation, and returns the rest of the phrase
// with single spaces. A wake word with nothing after it does not match.
func MatchWake(text string, words []string) (string, bool) {
	fields := strings.Fields(text)

	for _, w := range words {
		wake := strings.Fields(w)
		if len(wake) == 0 || len(fields) <= len(wake) {
			continue
		}

		matched := true
		for i, wf := range wake {
			if normalizeWord(fields[i]) != normalizeWord(wf) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		rest := fields[len(wake):]
		// drop punctuation-only tokens left between the wake word and the command
		for len(rest) > 0 && normalizeWord(rest[0]) == "" {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			continue
		}
		return strings.Join(rest, " "), true
	}

	return "", false
}

var stopPhrases = []string{"stop listening", "stop voice", "disable voice"}

// isStopPhrase matches the phrases that switch continuous listening off.
func isStopPhrase(text string) bool {
	words := strings.Fields(text)
	norm := make([]string, 0, len(words))
	for _, w := range words {
		if n := normalizeWord(w); n != "" {
			norm = append(norm, n)
		}
	}
	joined := strings.Join(norm, " ")
	for _, p := range stopPhrases {
		if joined == p {
			return true
		}
	}
	return false
}
