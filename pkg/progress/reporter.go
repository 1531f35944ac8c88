// Package progress delivers per-item completion events from a running
// pipeline to observers without slowing the fetches down.
package progress

import (
	"time"

	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Event describes one finished unit of work.
type Event struct {
	// Completed counts finished units including this one.
	Completed int
	// Total is the number of identifiers in the run.
	Total int

	Identifier string
	Index      int
	OK         bool
	// Kind is empty for successes.
	Kind     record.ErrorKind
	Attempts int
	Elapsed  time.Duration
}

// Percent returns Completed/Total as a percentage.
func (e Event) Percent() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Completed) / float64(e.Total) * 100
}

// Reporter observes completion events. Report is called from a single
// goroutine, in completion order.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Event)

// Report calls f.
func (f ReporterFunc) Report(ev Event) {
	f(ev)
}

// Multi fans events out to every non-nil reporter in order.
func Multi(reporters ...Reporter) Reporter {
	var rs []Reporter
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return multi(rs)
}

type multi []Reporter

func (m multi) Report(ev Event) {
	for _, r := range m {
		r.Report(ev)
	}
}
