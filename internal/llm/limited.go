package llm

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dokuprime/helpdesk-assistant/pkg/metrics"
)

// Limited caps the number of in-flight calls to a shared backend. One
// Limited is shared by every classifier, the rewriter and the generator.
type Limited struct {
	next    Client
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewLimited wraps next with a weighted semaphore of size n. Each call that
// holds a slot is bounded by timeout; zero leaves only the caller's deadline.
func NewLimited(next Client, n int64, timeout time.Duration) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{next: next, sem: semaphore.NewWeighted(n), timeout: timeout}
}

// Name returns the wrapped provider name.
func (l *Limited) Name() string {
	return l.next.Name()
}

// Complete waits for a free slot, then forwards the request.
func (l *Limited) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	// The clock starts once the slot is held, so queueing does not eat into it.
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	metrics.LLMInflight.Inc()
	defer metrics.LLMInflight.Dec()

	resp, err := l.next.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.RecordTokens(resp.Model, resp.TokensIn, resp.TokensOut)
	return resp, nil
}
