package sessions

import (
	"context"
	"sync"
	"time"
)

// Locker serializes turns against the same session. Turns for distinct
// sessions proceed in parallel without coordination.
type Locker struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	timeout time.Duration
}

// NewLocker creates a per-session locker. Lock acquisition waits up to
// timeout before failing with ErrLockTimeout.
func NewLocker(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Locker{
		locks:   make(map[string]chan struct{}),
		timeout: timeout,
	}
}

// Lock acquires the session lock, respecting both the context and the
// configured timeout.
func (l *Locker) Lock(ctx context.Context, sessionID string) error {
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		ch, held := l.locks[sessionID]
		if !held {
			l.locks[sessionID] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
			// Holder released; retry the acquire.
		case <-timer.C:
			return ErrLockTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unlock releases the session lock and wakes all waiters.
func (l *Locker) Unlock(sessionID string) {
	l.mu.Lock()
	ch, held := l.locks[sessionID]
	if held {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()
	if held {
		close(ch)
	}
}
