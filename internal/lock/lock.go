// Package lock serializes turns of the same conversation.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout is returned when a conversation stays locked longer than
// the caller is willing to wait.
var ErrLockTimeout = errors.New("lock: timed out waiting for conversation")

// Locker grants exclusive access to one conversation at a time. The
// returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, conversationID string) (release func(), err error)
}

// LocalLocker is an in-process keyed mutex. It is enough for a single
// replica; multi-replica deployments use RedisLocker.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

// NewLocalLocker creates an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[conversationID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[conversationID] = s
	}
	s.waiters++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.done(conversationID, s)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.done(conversationID, s)
		})
	}, nil
}

func (l *LocalLocker) done(conversationID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.waiters--
	if s.waiters == 0 {
		delete(l.slots, conversationID)
	}
}
