package generate

import (
	"regexp"
	"strings"
)

var markdownRules = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile("```[\\s\\S]*?```"), ""},
	{regexp.MustCompile("`([^`]*)`"), "$1"},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "$1"},
	{regexp.MustCompile(`__(.*?)__`), "$1"},
	{regexp.MustCompile(`\*(.*?)\*`), "$1"},
	{regexp.MustCompile(`\b_([^_\n]+)_\b`), "$1"},
	{regexp.MustCompile(`~~(.*?)~~`), "$1"},
	{regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`), ""},
	{regexp.MustCompile(`(?m)^[ \t]{0,3}>[ \t]?`), ""},
}

// StripMarkdown removes emphasis, heading, quote and code markup for
// channels that render plain text only.
func StripMarkdown(text string) string {
	for _, r := range markdownRules {
		text = r.pattern.ReplaceAllString(text, r.repl)
	}
	return strings.TrimSpace(text)
}
