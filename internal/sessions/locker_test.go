package sessions

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLockerSerializesSameSession(t *testing.T) {
	l := NewLocker(time.Second)
	ctx := context.Background()

	if err := l.Lock(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := l.Lock(ctx, "s1"); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock should block while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Unlock("s1")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock should acquire after unlock")
	}
	l.Unlock("s1")
}

func TestLockerDistinctSessionsDoNotBlock(t *testing.T) {
	l := NewLocker(time.Second)
	ctx := context.Background()
	if err := l.Lock(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(ctx, "s2"); err != nil {
		t.Fatalf("distinct sessions must not contend: %v", err)
	}
	l.Unlock("s1")
	l.Unlock("s2")
}

func TestLockerTimeout(t *testing.T) {
	l := NewLocker(50 * time.Millisecond)
	ctx := context.Background()
	l.Lock(ctx, "s1")
	if err := l.Lock(ctx, "s1"); err != ErrLockTimeout {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}
	l.Unlock("s1")
}

func TestLockerContextCancel(t *testing.T) {
	l := NewLocker(time.Minute)
	l.Lock(context.Background(), "s1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Lock(ctx, "s1") }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled lock wait should return promptly")
	}
	l.Unlock("s1")
}

func TestLockerStress(t *testing.T) {
	l := NewLocker(5 * time.Second)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Lock(context.Background(), "shared"); err != nil {
				t.Error(err)
				return
			}
			counter++
			l.Unlock("shared")
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("expected 50 serialized increments, got %d", counter)
	}
}
