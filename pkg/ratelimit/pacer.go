package ratelimit

import (
	"context"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is anything that can block until the next request may start.
type Limiter interface {
	Wait(ctx context.Context) error
	Limit() rate.Limit
}

// Multi combines limiters, waiting on each in order from the strictest.
func Multi(limiters ...Limiter) Limiter {
	sorted := make([]Limiter, len(limiters))
	copy(sorted, limiters)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Limit() < sorted[j].Limit()
	})
	return &multiLimiter{limiters: sorted}
}

type multiLimiter struct {
	limiters []Limiter
}

func (m *multiLimiter) Wait(ctx context.Context) error {
	for _, l := range m.limiters {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiLimiter) Limit() rate.Limit {
	if len(m.limiters) == 0 {
		return rate.Inf
	}
	return m.limiters[0].Limit()
}

// Per returns the limit for eventCount events every duration.
func Per(eventCount int, duration time.Duration) rate.Limit {
	if eventCount <= 0 {
		return rate.Inf
	}
	return rate.Every(duration / time.Duration(eventCount))
}

// NewPacer returns a token bucket allowing rps requests per second with
// the given burst. rps <= 0 disables pacing.
func NewPacer(rps float64, burst int) Limiter {
	if burst < 1 {
		burst = 1
	}
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
