// Package timewindow implements a rolling sliding-window counter over a
// configurable span (60 seconds for the rate limiter), shared by the Alert Sender's rate limiter (spec.md §4.7) and the Network
// Analyzer's port-scanning heuristic (spec.md §4.3). Both need "how many
// events in the last N seconds", not a periodically-refilled budget, so this
// deliberately isn't a token bucket.
package timewindow

import (
	"sync"
	"time"
)

// Window counts timestamped occurrences and reports how many fall within
// the trailing span. It is safe for concurrent use.
type Window struct {
	mu   sync.Mutex
	span time.Duration
	hits []time.Time
}

// New returns a Window that only considers events within the trailing span.
func New(span time.Duration) *Window {
	return &Window{span: span}
}

// Record adds an occurrence at now and returns the count within the
// trailing span afterward, evicting anything older than the span first.
func (w *Window) Record(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked(now)
	w.hits = append(w.hits, now)
	return len(w.hits)
}

// Count reports how many occurrences fall within the trailing span of now,
// without recording a new one.
func (w *Window) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked(now)
	return len(w.hits)
}

// Allow records an occurrence and reports whether the resulting count is
// still at or under limit. Used by callers that want "record, then decide"
// as one atomic step.
func (w *Window) Allow(now time.Time, limit int) bool {
	return w.Record(now) <= limit
}

func (w *Window) evictLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}
