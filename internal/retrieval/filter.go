package retrieval

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`\b\d{5}\b`)

// Codes returns the 5-digit business activity codes found in text, in
// order of appearance.
func Codes(text string) []string {
	return codePattern.FindAllString(text, -1)
}

// FirstCode returns the first activity code in text.
func FirstCode(text string) (string, bool) {
	c := codePattern.FindString(text)
	return c, c != ""
}

// DedupeByCode keeps at most one passage per embedded activity code; the
// first passage seen for a code wins. Passages without a code are kept.
func DedupeByCode(passages []Passage) []Passage {
	seen := make(map[string]bool)
	out := make([]Passage, 0, len(passages))
	for _, p := range passages {
		code, ok := FirstCode(p.Text)
		if ok {
			if seen[code] {
				continue
			}
			seen[code] = true
		}
		out = append(out, p)
	}
	return out
}

// DropPlaceholders removes boilerplate passages whose text starts with one
// of the placeholders, ignoring case and surrounding space.
func DropPlaceholders(passages []Passage, placeholders []string) []Passage {
	if len(placeholders) == 0 {
		return passages
	}
	out := make([]Passage, 0, len(passages))
	for _, p := range passages {
		if !isPlaceholder(p.Text, placeholders) {
			out = append(out, p)
		}
	}
	return out
}

func isPlaceholder(text string, placeholders []string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, ph := range placeholders {
		if ph != "" && strings.HasPrefix(t, strings.ToLower(ph)) {
			return true
		}
	}
	return false
}

// SourceTitle strips the file extension from a source name.
func SourceTitle(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// Attribute prefixes every passage with an attribution clause built from
// its source title. format must contain a single %s verb.
func Attribute(passages []Passage, format string) []Passage {
	out := make([]Passage, len(passages))
	for i, p := range passages {
		p.Text = fmt.Sprintf(format, SourceTitle(p.SourceName)) + p.Text
		out[i] = p
	}
	return out
}

// Truncate returns at most n passages.
func Truncate(passages []Passage, n int) []Passage {
	if n > 0 && len(passages) > n {
		return append([]Passage(nil), passages[:n]...)
	}
	return passages
}
