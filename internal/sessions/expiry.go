package sessions

import (
	"context"
	"time"
)

// Sweeper removes sessions idle longer than the TTL. The server schedules it
// periodically; one sweep is a single bounded store call.
type Sweeper struct {
	store Store
	ttl   time.Duration
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store Store, ttl time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sweeper{store: store, ttl: ttl}
}

// Sweep deletes idle sessions and returns the removed count.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ttl).Unix()
	return s.store.DeleteIdleBefore(ctx, cutoff)
}
