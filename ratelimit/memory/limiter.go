// Package memorylimiter provides the in-process refresh-retry budget: a
// sliding-window reservation counter used by the key cache to cap how often
// a key-lookup miss may trigger an extra key-set fetch.
package memorylimiter

import (
	"sync"
	"time"
)

// Budget is a sliding-window budget. With limit 1 and a one-hour window it
// implements "at most one retry-refresh per rolling hour".
type Budget struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	marks  []time.Time
}

// New constructs a budget over the wall clock.
func New(limit int, window time.Duration) *Budget {
	return NewWithClock(limit, window, time.Now)
}

// NewWithClock constructs a budget with an injected clock so expiry of the
// window can be tested deterministically.
func NewWithClock(limit int, window time.Duration, now func() time.Time) *Budget {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &Budget{limit: limit, window: window, now: now}
}

// Reserve consumes one slot if the window has capacity. A denied call does
// not extend the window.
func (b *Budget) Reserve() (bool, error) {
	ts := b.now()
	start := ts.Add(-b.window)

	b.mu.Lock()
	defer b.mu.Unlock()

	// Prune marks that fell out of the window.
	prune := 0
	for prune < len(b.marks) && b.marks[prune].Before(start) {
		prune++
	}
	if prune > 0 {
		b.marks = b.marks[prune:]
	}

	if len(b.marks) >= b.limit {
		return false, nil
	}
	b.marks = append(b.marks, ts)
	return true, nil
}
