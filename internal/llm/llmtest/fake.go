// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dokuprime/helpdesk-assistant/internal/llm"
)

// ErrScriptExhausted is returned when a Fake has no more replies.
var ErrScriptExhausted = errors.New("llmtest: no scripted reply left")

// Reply is one scripted response.
type Reply struct {
	Content string
	Err     error
}

// Fake replays scripted replies. Replies can be queued globally or per
// system prompt prefix so that concurrent callers stay deterministic.
type Fake struct {
	mu       sync.Mutex
	queue    []Reply
	byPrefix map[string][]Reply
	fallback *Reply
	Requests []*llm.CompletionRequest
}

// New returns a Fake that replays replies in order.
func New(replies ...string) *Fake {
	f := &Fake{byPrefix: make(map[string][]Reply)}
	for _, r := range replies {
		f.queue = append(f.queue, Reply{Content: r})
	}
	return f
}

// On queues replies for requests whose system prompt starts with prefix.
func (f *Fake) On(prefix string, replies ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range replies {
		f.byPrefix[prefix] = append(f.byPrefix[prefix], Reply{Content: r})
	}
	return f
}

// OnError queues a failing reply for requests matching prefix.
func (f *Fake) OnError(prefix string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byPrefix[prefix] = append(f.byPrefix[prefix], Reply{Err: err})
	return f
}

// Always makes every unmatched request return content.
func (f *Fake) Always(content string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = &Reply{Content: content}
	return f
}

// Name returns the provider name.
func (f *Fake) Name() string { return "fake" }

// Complete returns the next scripted reply.
func (f *Fake) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)

	reply, ok := f.next(req.System)
	if !ok {
		return nil, ErrScriptExhausted
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.CompletionResponse{Content: reply.Content, Model: "fake"}, nil
}

func (f *Fake) next(system string) (Reply, bool) {
	for prefix, replies := range f.byPrefix {
		if len(replies) > 0 && strings.HasPrefix(system, prefix) {
			f.byPrefix[prefix] = replies[1:]
			return replies[0], true
		}
	}
	if len(f.queue) > 0 {
		r := f.queue[0]
		f.queue = f.queue[1:]
		return r, true
	}
	if f.fallback != nil {
		return *f.fallback, true
	}
	return Reply{}, false
}

// Calls returns how many requests were made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

// CallsWithPrefix counts requests whose system prompt starts with prefix.
func (f *Fake) CallsWithPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.Requests {
		if strings.HasPrefix(r.System, prefix) {
			n++
		}
	}
	return n
}
