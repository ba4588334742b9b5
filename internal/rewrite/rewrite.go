// Package rewrite turns a raw user query into a standalone retrieval query.
package rewrite

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dokuprime/helpdesk-assistant/internal/classify"
	"github.com/dokuprime/helpdesk-assistant/internal/config"
	"github.com/dokuprime/helpdesk-assistant/internal/llm"
)

// RelatednessClassifier decides whether a query continues the history.
type RelatednessClassifier interface {
	Relatedness(ctx context.Context, query, history string) (classify.Relatedness, error)
}

// Result is the outcome of a rewrite.
type Result struct {
	Query       string
	UsedContext bool
}

// Rewriter restates queries without answering them.
type Rewriter struct {
	client      llm.Client
	relatedness RelatednessClassifier
	prompts     config.Prompts
	acronyms    []*acronym
	acronymCSV  string
}

type acronym struct {
	canonical string
	pattern   *regexp.Regexp
}

// New creates a rewriter. Acronyms are restored to their canonical
// spelling after every rewrite.
func New(client llm.Client, relatedness RelatednessClassifier, prompts config.Prompts, acronyms []string) *Rewriter {
	sorted := append([]string(nil), acronyms...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	r := &Rewriter{
		client:      client,
		relatedness: relatedness,
		prompts:     prompts,
		acronymCSV:  strings.Join(acronyms, ", "),
	}
	for _, a := range sorted {
		r.acronyms = append(r.acronyms, &acronym{
			canonical: a,
			pattern:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(a) + `\b`),
		})
	}
	return r
}

// Rewrite returns the standalone query. History is consulted only when it
// is non-empty and the relatedness classifier says the query continues it.
// On any failure the raw query is returned together with the error.
func (r *Rewriter) Rewrite(ctx context.Context, query, history string) (Result, error) {
	raw := strings.TrimSpace(query)
	safe := classify.SanitizeInput(raw)

	related := classify.Unrelated
	if strings.TrimSpace(history) != "" {
		var err error
		related, err = r.relatedness.Relatedness(ctx, safe, history)
		if err != nil {
			related = classify.Unrelated
		}
	}

	var (
		out string
		err error
	)
	if related == classify.Related {
		user := fmt.Sprintf("<context>\n%s\n</context>\n<user_query>\n%s\n</user_query>", classify.SanitizeInput(history), safe)
		out, err = llm.Ask(ctx, r.client, fmt.Sprintf(r.prompts.Rewrite, r.acronymCSV), user)
	} else {
		user := fmt.Sprintf("<user_query>\n%s\n</user_query>", safe)
		out, err = llm.Ask(ctx, r.client, fmt.Sprintf(r.prompts.RewriteNoCtx, r.acronymCSV), user)
	}
	if err != nil {
		return Result{Query: raw}, fmt.Errorf("rewrite query: %w", err)
	}

	out = r.restoreAcronyms(cleanOutput(out))
	if out == "" {
		return Result{Query: raw}, nil
	}

	if related != classify.Related && LeaksContext(raw, out, history) {
		return Result{Query: raw}, nil
	}
	return Result{Query: out, UsedContext: related == classify.Related}, nil
}

func (r *Rewriter) restoreAcronyms(s string) string {
	for _, a := range r.acronyms {
		s = a.pattern.ReplaceAllString(s, a.canonical)
	}
	return s
}

func cleanOutput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	for _, tag := range []string{"<user_query>", "</user_query>", "<rewritten_query>", "</rewritten_query>"} {
		s = strings.ReplaceAll(s, tag, "")
	}
	return strings.TrimSpace(s)
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}\-]*`)

var stopwords = map[string]bool{
	"apa": true, "yang": true, "dan": true, "di": true, "ke": true, "dari": true, "untuk": true,
	"dengan": true, "itu": true, "ini": true, "adalah": true, "bagaimana": true, "cara": true,
	"saya": true, "bisa": true, "atau": true, "pada": true, "dalam": true, "apakah": true,
	"mengenai": true, "tentang": true, "berapa": true, "kapan": true, "siapa": true, "mana": true,
	"jika": true, "tidak": true, "ada": true, "perlu": true, "harus": true,
}

func keywords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		if !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

// LeaksContext reports whether rewritten carries a keyword that appears in
// history but not in the original query.
func LeaksContext(query, rewritten, history string) bool {
	if strings.TrimSpace(history) == "" {
		return false
	}
	own := keywords(query)
	ctx := keywords(history)
	for w := range keywords(rewritten) {
		if ctx[w] && !own[w] {
			return true
		}
	}
	return false
}
