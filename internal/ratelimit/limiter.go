// Package ratelimit provides per-business token-bucket limiting for turns.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures the turn limiter.
type Config struct {
	// RequestsPerSecond is the sustained turn rate allowed per business.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BurstSize is the number of turns allowed in a burst.
	BurstSize int `yaml:"burst_size"`
	// Enabled controls whether limiting is active.
	Enabled bool `yaml:"enabled"`
}

// bucket implements a token bucket.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(cfg Config) *bucket {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
	}
	return &bucket{
		tokens:     float64(cfg.BurstSize),
		maxTokens:  float64(cfg.BurstSize),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

func (b *bucket) waitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
}

// Limiter manages per-business buckets.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	config  Config
	maxKeys int
}

// NewLimiter creates a turn limiter.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		config:  cfg,
		maxKeys: 10000,
	}
}

// Allow consumes a token for the business if one is available.
func (l *Limiter) Allow(businessID string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.getBucket(businessID).allow()
}

// WaitTime reports how long until the business would be allowed again.
func (l *Limiter) WaitTime(businessID string) time.Duration {
	if !l.config.Enabled {
		return 0
	}
	return l.getBucket(businessID).waitTime()
}

func (l *Limiter) getBucket(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= l.maxKeys {
		l.prune()
	}
	b = newBucket(l.config)
	l.buckets[key] = b
	return b
}

// prune drops buckets that are nearly full, i.e. inactive keys.
func (l *Limiter) prune() {
	for key, b := range l.buckets {
		b.mu.Lock()
		b.refill()
		full := b.tokens >= b.maxTokens*0.9
		b.mu.Unlock()
		if full {
			delete(l.buckets, key)
		}
	}
}
