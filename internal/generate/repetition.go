package generate

import (
	"strings"
	"unicode"
)

// Repetitive reports whether text contains the same word at least streak
// times in a row. Comparison ignores case and surrounding punctuation.
func Repetitive(text string, streak int) bool {
	if streak < 2 {
		return false
	}
	run := 0
	prev := ""
	for _, w := range strings.Fields(text) {
		w = strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
		if w == "" {
			continue
		}
		if w == prev {
			run++
		} else {
			prev = w
			run = 1
		}
		if run >= streak {
			return true
		}
	}
	return false
}
