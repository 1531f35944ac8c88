package progress

import (
	"sync"
)

// Dispatcher decouples event producers from a Reporter. Notify never
// blocks: events go through a channel buffered to the run total and a
// single goroutine delivers them.
type Dispatcher struct {
	reporter Reporter
	total    int

	mu        sync.Mutex
	completed int
	closed    bool

	events chan Event
	done   chan struct{}
}

// NewDispatcher starts delivering events for a run of total items.
func NewDispatcher(total int, reporter Reporter) *Dispatcher {
	d := &Dispatcher{
		reporter: reporter,
		total:    total,
		events:   make(chan Event, max(total, 1)),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for ev := range d.events {
		d.reporter.Report(ev)
	}
}

// Notify queues ev, filling in Completed and Total. Events after Close
// or beyond the total are dropped.
func (d *Dispatcher) Notify(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.completed >= cap(d.events) {
		return
	}
	d.completed++
	ev.Completed = d.completed
	ev.Total = d.total
	d.events <- ev
}

// Close stops accepting events and waits until every queued event has
// been delivered. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	<-d.done
}

// Completed returns the number of events accepted so far.
func (d *Dispatcher) Completed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}
