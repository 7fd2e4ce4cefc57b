package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewLimiter(clk, 5, 5)

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("event %d rejected inside burst", i)
		}
	}
	if l.Allow() {
		t.Fatalf("expected burst to be exhausted")
	}

	clk.Advance(200 * time.Millisecond)
	if !l.Allow() {
		t.Fatalf("expected one event after one interval")
	}
	if l.Allow() {
		t.Fatalf("expected only one event after one interval")
	}
}

func TestLimiter_IdleDoesNotBankBeyondBurst(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewLimiter(clk, 10, 2)

	clk.Advance(time.Minute)
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("allowed=%d, want 2", allowed)
	}
}

func TestLimiter_ClockGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	l := NewLimiter(clk, 1, 1)

	if !l.Allow() {
		t.Fatalf("first event rejected")
	}
	clk.Advance(-time.Hour)
	if l.Allow() {
		t.Fatalf("event admitted after clock moved backwards")
	}
}

func TestLimiter_NilAdmitsEverything(t *testing.T) {
	l := NewLimiter(nil, 0, 0)
	if l != nil {
		t.Fatalf("NewLimiter(0)=%v, want nil", l)
	}
	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatalf("nil limiter rejected event %d", i)
		}
	}
}
