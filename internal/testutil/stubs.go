package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Step is one scripted answer of a StubFetcher.
type Step struct {
	Record *record.Record
	Err    error
	Delay  time.Duration
}

// StubFetcher answers each identifier from a script and records calls and
// concurrency. Identifiers without a script get a record with a single
// "id" field.
type StubFetcher struct {
	mu      sync.Mutex
	scripts map[string][]Step
	calls   map[string]int
	order   []string

	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	// Delay is applied to every call before its scripted delay.
	Delay time.Duration
}

// NewStubFetcher creates an empty stub.
func NewStubFetcher() *StubFetcher {
	return &StubFetcher{
		scripts: make(map[string][]Step),
		calls:   make(map[string]int),
	}
}

// Script sets the answers for identifier. The last step repeats.
func (s *StubFetcher) Script(identifier string, steps ...Step) *StubFetcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[identifier] = steps
	return s
}

// Fetch implements the fetcher contract.
func (s *StubFetcher) Fetch(ctx context.Context, identifier string) (*record.Record, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if cur <= peak || s.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}

	s.mu.Lock()
	n := s.calls[identifier]
	s.calls[identifier] = n + 1
	s.order = append(s.order, identifier)
	steps := s.scripts[identifier]
	s.mu.Unlock()

	step := Step{Record: record.New(identifier, record.F("id", identifier))}
	if len(steps) > 0 {
		step = steps[min(n, len(steps)-1)]
	}

	if d := s.Delay + step.Delay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if step.Err != nil {
		return nil, step.Err
	}
	return step.Record, nil
}

// Calls returns how many times identifier was fetched.
func (s *StubFetcher) Calls(identifier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[identifier]
}

// TotalCalls returns the number of fetches across all identifiers.
func (s *StubFetcher) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Order returns identifiers in the order fetches started.
func (s *StubFetcher) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// MaxInFlight returns the highest number of concurrent fetches observed.
func (s *StubFetcher) MaxInFlight() int {
	return int(s.maxInFlight.Load())
}
