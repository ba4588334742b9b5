// Package generate produces grounded answers with a bounded retry policy.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/classify"
	"github.com/dokuprime/helpdesk-assistant/internal/config"
	"github.com/dokuprime/helpdesk-assistant/internal/llm"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
	"github.com/dokuprime/helpdesk-assistant/pkg/metrics"
)

// DeclineMarker is the token the model is told to emit when the context
// does not contain an answer.
const DeclineMarker = "[TIDAK_TERJAWAB]"

// Outcome is the typed result of a generation.
type Outcome string

const (
	// OutcomeAnswered means the model produced a usable answer.
	OutcomeAnswered Outcome = "answered"
	// OutcomeDeclined means the model said the context has no answer.
	OutcomeDeclined Outcome = "declined"
	// OutcomeFallback means every attempt failed and the apology was used.
	OutcomeFallback Outcome = "fallback"
)

// Failed reports whether the outcome counts towards the fail streak.
func (o Outcome) Failed() bool {
	return o != OutcomeAnswered
}

// Request carries everything the answer prompt needs.
type Request struct {
	Query           string
	History         string
	Platform        string
	FailStreak      bool
	HelpdeskStaffed bool
	Passages        []string
	Sources         string
}

// Result is the answer and how it was obtained.
type Result struct {
	Text     string
	Outcome  Outcome
	Attempts int
}

// Options tunes the retry policy.
type Options struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	RepetitionStreak int
	TokenBudget      int
}

var (
	errEmpty      = errors.New("empty generation")
	errRepetitive = errors.New("repetitive generation")
)

// Generator answers queries from retrieved passages.
type Generator struct {
	client llm.Client
	policy *config.Policy
	opts   Options
	budget *TokenBudget
	log    *logger.Logger
}

// New creates a generator.
func New(client llm.Client, policy *config.Policy, opts Options, log *logger.Logger) *Generator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RepetitionStreak == 0 {
		opts.RepetitionStreak = 5
	}
	return &Generator{
		client: client,
		policy: policy,
		opts:   opts,
		budget: NewTokenBudget(opts.TokenBudget),
		log:    log.Stage("generate"),
	}
}

// FailMessage picks the decline sentence: the helpdesk offer when the
// streak is full and the desk is staffed, the unavailable notice when the
// streak is full and nobody is on duty, a request for detail otherwise.
func (g *Generator) FailMessage(streak, staffed bool) string {
	m := g.policy.Messages
	switch {
	case streak && staffed:
		return m.HelpdeskOffer
	case streak:
		return m.Unavailable
	default:
		return m.AskForDetail
	}
}

// Generate runs up to MaxAttempts attempts. Empty output, transport errors
// and degenerate repetition are retried with exponential backoff; when
// every attempt fails the fixed apology is returned with OutcomeFallback.
func (g *Generator) Generate(ctx context.Context, req Request) Result {
	completion := g.buildRequest(req)

	attempts := 0
	var text string
	op := func() error {
		attempts++
		resp, err := g.client.Complete(ctx, completion)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		out := strings.TrimSpace(resp.Content)
		if out == "" {
			return errEmpty
		}
		if Repetitive(out, g.opts.RepetitionStreak) {
			return errRepetitive
		}
		text = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if g.opts.InitialBackoff > 0 {
		b.InitialInterval = g.opts.InitialBackoff
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.opts.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		g.log.Warn("generation attempt rejected",
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	})

	var res Result
	switch {
	case err != nil:
		g.log.Error("generation exhausted", zap.Int("attempts", attempts), zap.Error(err))
		res = Result{Text: g.policy.Messages.Apology, Outcome: OutcomeFallback, Attempts: attempts}
	case strings.Contains(text, DeclineMarker):
		res = Result{Text: g.FailMessage(req.FailStreak, req.HelpdeskStaffed), Outcome: OutcomeDeclined, Attempts: attempts}
	default:
		if g.policy.IsPlainText(strings.ToLower(req.Platform)) {
			text = StripMarkdown(text)
		}
		res = Result{Text: text, Outcome: OutcomeAnswered, Attempts: attempts}
	}

	metrics.RecordGeneration(string(res.Outcome), res.Attempts)
	return res
}

func (g *Generator) buildRequest(req Request) *llm.CompletionRequest {
	p := g.policy.Prompts
	style := p.AnswerRichText
	if g.policy.IsPlainText(strings.ToLower(req.Platform)) {
		style = p.AnswerPlain
	}
	system := fmt.Sprintf(p.Answer, DeclineMarker)
	if style != "" {
		system += "\n" + style
	}

	var b strings.Builder
	b.WriteString("<context>\n")
	for i, passage := range g.budget.Trim(req.Passages) {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(passage)
	}
	b.WriteString("\n</context>\n")
	if req.Sources != "" {
		fmt.Fprintf(&b, "<sources>\n%s\n</sources>\n", req.Sources)
	}
	if req.History != "" {
		fmt.Fprintf(&b, "<history>\n%s\n</history>\n", classify.SanitizeInput(req.History))
	}
	fmt.Fprintf(&b, "<user_query>\n%s\n</user_query>", classify.SanitizeInput(req.Query))

	return &llm.CompletionRequest{
		System:   system,
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: b.String()}},
	}
}
