package ratelimit

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestPer(t *testing.T) {
	if got, want := Per(10, time.Second), rate.Every(100*time.Millisecond); got != want {
		t.Errorf("Per(10, 1s) = %v, want %v", got, want)
	}
	if got := Per(0, time.Second); got != rate.Inf {
		t.Errorf("Per(0, 1s) = %v, want Inf", got)
	}
}

func TestMulti_UsesStrictestLimit(t *testing.T) {
	slow := rate.NewLimiter(Per(1, time.Second), 1)
	fast := rate.NewLimiter(Per(100, time.Second), 1)

	m := Multi(fast, slow)
	if m.Limit() != slow.Limit() {
		t.Errorf("Limit() = %v, want %v", m.Limit(), slow.Limit())
	}
}

func TestNewPacer(t *testing.T) {
	unlimited := NewPacer(0, 0)
	if unlimited.Limit() != rate.Inf {
		t.Errorf("NewPacer(0) limit = %v, want Inf", unlimited.Limit())
	}

	p := NewPacer(20, 1)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// 3 tokens at 20/s with burst 1: at least two 50ms gaps
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 waits took %v, want >= 90ms", elapsed)
	}
}
