// Package batch splits identifier lists into contiguous groups and paces
// the pause between them.
package batch

import (
	"context"
	"time"
)

// Range is a half-open [Start, End) slice of the input.
type Range struct {
	Start int
	End   int
}

// Len returns the number of items in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Ranges returns the contiguous group boundaries for n items. A size of 0
// or less yields a single range covering all items. No ranges are returned
// for n == 0.
func Ranges(n, size int) []Range {
	if n <= 0 {
		return nil
	}
	if size <= 0 || size >= n {
		return []Range{{Start: 0, End: n}}
	}

	total := n / size
	if n%size > 0 {
		total++
	}

	ranges := make([]Range, total)
	for i := range total {
		start := i * size
		end := start + size
		if end > n {
			end = n
		}
		ranges[i] = Range{Start: start, End: end}
	}
	return ranges
}

// Partition splits items into contiguous groups of at most size items,
// preserving order. Concatenating the groups yields items.
func Partition[T any](items []T, size int) [][]T {
	ranges := Ranges(len(items), size)
	groups := make([][]T, len(ranges))
	for i, r := range ranges {
		groups[i] = items[r.Start:r.End:r.End]
	}
	return groups
}

// Plan is the grouping of one run together with the pause between groups.
type Plan struct {
	Ranges []Range
	Delay  time.Duration
}

// NewPlan builds the plan for n items.
func NewPlan(n, size int, delay time.Duration) Plan {
	return Plan{Ranges: Ranges(n, size), Delay: delay}
}

// Len returns the number of groups.
func (p Plan) Len() int {
	return len(p.Ranges)
}

// Wait pauses after group i completes. It returns at once for the last
// group or when Delay is zero, and returns ctx.Err() when cancelled.
func (p Plan) Wait(ctx context.Context, i int) error {
	if p.Delay <= 0 || i >= len(p.Ranges)-1 {
		return ctx.Err()
	}

	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
