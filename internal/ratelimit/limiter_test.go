package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 3, Enabled: true})
	for i := 0; i < 3; i++ {
		if !l.Allow("biz-1") {
			t.Errorf("turn %d within burst should be allowed", i)
		}
	}
	if l.Allow("biz-1") {
		t.Error("turn after burst should be rejected")
	}
}

func TestLimiterIsolatesBusinesses(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 1, Enabled: true})
	if !l.Allow("biz-1") {
		t.Error("first turn for biz-1 should pass")
	}
	if !l.Allow("biz-2") {
		t.Error("biz-2 should have its own bucket")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(Config{Enabled: false})
	for i := 0; i < 100; i++ {
		if !l.Allow("biz-1") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestLimiterRefills(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 1, Enabled: true})
	l.Allow("biz-1")
	if l.Allow("biz-1") {
		t.Error("bucket should be empty")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("biz-1") {
		t.Error("bucket should refill over time")
	}
}

func TestWaitTime(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: true})
	l.Allow("biz-1")
	if w := l.WaitTime("biz-1"); w <= 0 {
		t.Errorf("expected positive wait time, got %v", w)
	}
}
