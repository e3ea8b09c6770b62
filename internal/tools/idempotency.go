package tools

import (
	"strings"
	"sync"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// IdempotencyCache remembers successful tool results per inbound message so
// a retried turn does not re-execute side effects. Only OK outcomes are
// cached; failures must stay retryable.
type IdempotencyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]idemEntry
}

type idemEntry struct {
	result    *models.ToolResult
	expiresAt time.Time
}

// NewIdempotencyCache creates a cache with the given TTL.
func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &IdempotencyCache{ttl: ttl, entries: make(map[string]idemEntry)}
}

// IdempotencyKey builds the cache key for one tool call within one message.
func IdempotencyKey(businessID string, channel models.Channel, messageID, tool string) string {
	return strings.Join([]string{businessID, string(channel), messageID, tool}, "|")
}

// Get returns the cached result, if any.
func (c *IdempotencyCache) Get(key string) (*models.ToolResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	copied := *entry.result
	return &copied, true
}

// Put caches a result. Non-OK outcomes are ignored.
func (c *IdempotencyCache) Put(key string, result *models.ToolResult) {
	if result == nil || result.Outcome != models.OutcomeOK {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	copied := *result
	c.entries[key] = idemEntry{result: &copied, expiresAt: time.Now().Add(c.ttl)}
}

// prune drops expired entries. Called under the lock.
func (c *IdempotencyCache) prune() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
