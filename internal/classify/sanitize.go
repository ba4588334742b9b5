package classify

import (
	"regexp"
	"strings"
)

var (
	tagPattern       = regexp.MustCompile(`<[^>]+>`)
	injectionPattern = regexp.MustCompile(`(?i)(ignore previous|disregard|abaikan instruksi|abaikan aturan|jailbreak|bypass|override|act as|pretend|roleplay|forget system|prompt injection).*`)
)

// SanitizeInput strips markup and instruction-override phrases from user
// text before it is placed into a prompt. Everything after an override
// phrase on the same line is dropped.
func SanitizeInput(text string) string {
	text = tagPattern.ReplaceAllString(text, "")
	text = injectionPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
