package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker() *Tracker {
	return NewTracker(nil, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty", value: "", want: 0},
		{name: "seconds", value: "7", want: 7 * time.Second},
		{name: "negative seconds", value: "-3", want: 0},
		{name: "http date", value: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		{name: "date in past", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "garbage", value: "soon", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestTracker_UpdateFromResponse(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantActive bool
	}{
		{name: "ok response", status: http.StatusOK, wantActive: false},
		{name: "not found", status: http.StatusNotFound, retryAfter: "10", wantActive: false},
		{name: "too many requests", status: http.StatusTooManyRequests, retryAfter: "10", wantActive: true},
		{name: "unavailable without hint", status: http.StatusServiceUnavailable, wantActive: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker()
			ctx := context.Background()

			headers := http.Header{}
			if tt.retryAfter != "" {
				headers.Set("Retry-After", tt.retryAfter)
			}
			if err := tracker.UpdateFromResponse(ctx, "books.example", tt.status, headers); err != nil {
				t.Fatalf("UpdateFromResponse() error = %v", err)
			}

			state, err := tracker.GetState(ctx, "books.example")
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Active() != tt.wantActive {
				t.Errorf("Active() = %v, want %v", state.Active(), tt.wantActive)
			}
			if tt.wantActive && state.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", state.StatusCode, tt.status)
			}
		})
	}
}

func TestTracker_HostsAreIndependent(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("Retry-After", "60")
	if err := tracker.UpdateFromResponse(ctx, "a.example", http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err := tracker.GetState(ctx, "b.example")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Active() {
		t.Error("cooldown leaked to another host")
	}
}

func TestTracker_KeepsLaterDeadline(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	long := http.Header{}
	long.Set("Retry-After", "120")
	short := http.Header{}
	short.Set("Retry-After", "1")

	_ = tracker.UpdateFromResponse(ctx, "a.example", http.StatusTooManyRequests, long)
	_ = tracker.UpdateFromResponse(ctx, "a.example", http.StatusTooManyRequests, short)

	state, _ := tracker.GetState(ctx, "a.example")
	if state.Remaining() < 100*time.Second {
		t.Errorf("Remaining() = %v, want the longer cooldown kept", state.Remaining())
	}
}

func TestTracker_Wait(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	// No cooldown: returns immediately
	start := time.Now()
	if err := tracker.Wait(ctx, "a.example"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Wait() blocked without a cooldown")
	}

	// Active cooldown: cancelled context aborts the wait
	headers := http.Header{}
	headers.Set("Retry-After", "60")
	_ = tracker.UpdateFromResponse(ctx, "a.example", http.StatusTooManyRequests, headers)

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := tracker.Wait(cctx, "a.example"); err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}
