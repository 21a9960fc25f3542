// Package traffic keeps sliding windows of request outcomes for load gauges.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies how a request left the pipeline.
type Outcome int

const (
	Success Outcome = iota
	Error
	Denied
	numOutcomes
)

// maxAge bounds how long timestamps are retained regardless of the queried window.
const maxAge = 5 * time.Minute

var defaultTracker Tracker

// Record records an outcome at the current time on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o, time.Now())
}

// RecordStatus records the outcome implied by an HTTP status code.
func RecordStatus(status int) {
	Record(OutcomeForStatus(status))
}

// Count returns the number of outcomes of kind o within the window.
func Count(o Outcome, window time.Duration) int {
	return defaultTracker.Count(o, window, time.Now())
}

// RequestCount returns the number of outcomes of any kind within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.Total(window, time.Now())
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// OutcomeForStatus maps 429 to Denied, 5xx to Error and everything else to Success.
func OutcomeForStatus(status int) Outcome {
	switch {
	case status == 429:
		return Denied
	case status >= 500:
		return Error
	default:
		return Success
	}
}

// Tracker maintains one sliding window of timestamps per outcome.
type Tracker struct {
	mu    sync.Mutex
	times [numOutcomes][]time.Time
}

// Record appends now to the outcome's window and prunes entries older than maxAge.
func (t *Tracker) Record(o Outcome, now time.Time) {
	if o < 0 || o >= numOutcomes {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns how many outcomes of kind o fall within window ending at now.
func (t *Tracker) Count(o Outcome, window time.Duration, now time.Time) int {
	if o < 0 || o >= numOutcomes {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], now.Add(-window))
}

// Total returns how many outcomes of any kind fall within window ending at now.
func (t *Tracker) Total(window time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := now.Add(-window)
	n := 0
	for o := range t.times {
		n += countSince(t.times[o], cutoff)
	}
	return n
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for o := range t.times {
		t.times[o] = nil
	}
}

// countSince counts timestamps that are not before cutoff. Timestamps are appended in order.
func countSince(times []time.Time, cutoff time.Time) int {
	i := len(times)
	for i > 0 && !times[i-1].Before(cutoff) {
		i--
	}
	return len(times) - i
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	for o, times := range t.times {
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
