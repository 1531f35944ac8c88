// Package limiter bounds how many fetches run at once.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for the permit pool.
var (
	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bulkfetch_limiter_in_flight",
		Help: "Number of permits currently held",
	})

	waitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulkfetch_limiter_wait_seconds",
		Help:    "Time spent waiting for a permit",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	})
)

// ErrInvalidCapacity is returned for a capacity below 1.
var ErrInvalidCapacity = errors.New("limiter capacity must be >= 1")

// Pool is a fixed-size permit pool. Waiters are served in FIFO order.
type Pool struct {
	sem      *semaphore.Weighted
	capacity int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// New creates a pool with capacity permits.
func New(capacity int) (*Pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}, nil
}

// Acquire blocks until a permit is free or ctx is done. On error no permit
// is held.
func (p *Pool) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	waitSeconds.Observe(time.Since(start).Seconds())

	cur := p.inFlight.Add(1)
	inFlightGauge.Inc()
	for {
		peak := p.maxInFlight.Load()
		if cur <= peak || p.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}
	return nil
}

// Release returns a permit. Releasing more than was acquired panics.
func (p *Pool) Release() {
	p.inFlight.Add(-1)
	inFlightGauge.Dec()
	p.sem.Release(1)
}

// Do runs fn while holding a permit.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context)) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	fn(ctx)
	return nil
}

// Capacity returns the number of permits.
func (p *Pool) Capacity() int {
	return p.capacity
}

// InFlight returns the number of permits currently held.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// MaxInFlight returns the highest number of permits held at once.
func (p *Pool) MaxInFlight() int {
	return int(p.maxInFlight.Load())
}
