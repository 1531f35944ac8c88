package progress

import (
	"sync"
	"time"
)

// percentMultiplier is used to convert a ratio to percentage (0-100).
const percentMultiplier = 100

// Tracker aggregates completion events into run statistics. It is a
// Reporter and safe for concurrent reads while events arrive.
type Tracker struct {
	total     int
	completed int
	successes int
	failures  int
	attempts  int

	startTime      time.Time
	lastUpdateTime time.Time

	mu sync.RWMutex
}

// NewTracker creates a tracker for total items.
func NewTracker(total int) *Tracker {
	now := time.Now()
	return &Tracker{
		total:          total,
		startTime:      now,
		lastUpdateTime: now,
	}
}

// Report records one event.
func (t *Tracker) Report(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	t.attempts += ev.Attempts
	if ev.OK {
		t.successes++
	} else {
		t.failures++
	}
	t.lastUpdateTime = time.Now()
}

// PercentComplete returns the completion percentage (0-100).
func (t *Tracker) PercentComplete() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.percentCompleteUnsafe()
}

// IsComplete returns true if every item has reported.
func (t *Tracker) IsComplete() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completed >= t.total
}

// EstimatedTimeRemaining estimates the remaining time from the average
// time per completed item. Returns 0 before the first completion.
func (t *Tracker) EstimatedTimeRemaining() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.completed == 0 {
		return 0
	}
	avg := time.Since(t.startTime) / time.Duration(t.completed)
	return avg * time.Duration(t.total-t.completed)
}

// Snapshot returns a copy of the current statistics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Snapshot{
		Total:           t.total,
		Completed:       t.completed,
		Successes:       t.successes,
		Failures:        t.failures,
		Attempts:        t.attempts,
		StartTime:       t.startTime,
		LastUpdateTime:  t.lastUpdateTime,
		PercentComplete: t.percentCompleteUnsafe(),
		ElapsedTime:     time.Since(t.startTime),
		ItemsPerSecond:  t.itemsPerSecondUnsafe(),
	}
}

// Snapshot is an immutable view of tracker state.
type Snapshot struct {
	Total           int
	Completed       int
	Successes       int
	Failures        int
	Attempts        int
	StartTime       time.Time
	LastUpdateTime  time.Time
	PercentComplete float64
	ElapsedTime     time.Duration
	ItemsPerSecond  float64
}

// percentCompleteUnsafe must be called with the lock held.
func (t *Tracker) percentCompleteUnsafe() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.completed) / float64(t.total) * percentMultiplier
}

// itemsPerSecondUnsafe must be called with the lock held.
func (t *Tracker) itemsPerSecondUnsafe() float64 {
	elapsed := time.Since(t.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(t.completed) / elapsed
}
