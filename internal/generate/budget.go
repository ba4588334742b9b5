package generate

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const budgetEncoding = "cl100k_base"

// TokenBudget trims context passages so the prompt stays under a token
// limit. When the BPE ranks cannot be loaded it estimates four characters
// per token.
type TokenBudget struct {
	max int
	enc *tiktoken.Tiktoken
}

// NewTokenBudget creates a budget of max tokens. A non-positive max
// disables trimming.
func NewTokenBudget(max int) *TokenBudget {
	b := &TokenBudget{max: max}
	if max > 0 {
		if enc, err := tiktoken.GetEncoding(budgetEncoding); err == nil {
			b.enc = enc
		}
	}
	return b
}

// Count returns the token count of text.
func (b *TokenBudget) Count(text string) int {
	if b.enc != nil {
		return len(b.enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Trim keeps passages in order while they fit. The first passage is always
// kept.
func (b *TokenBudget) Trim(passages []string) []string {
	if b.max <= 0 || len(passages) == 0 {
		return passages
	}
	used := 0
	for i, p := range passages {
		used += b.Count(p)
		if used > b.max && i > 0 {
			return passages[:i]
		}
	}
	return passages
}
