// Package ratelimit tracks the remaining request quota reported by the
// upstream product API and gates outgoing calls until the reported reset.
package ratelimit

import (
	"log"
	"sync"
	"time"
)

// DefaultSafetyBuffer is the remaining-quota floor below which calls stop.
// It covers requests already in flight when the last count was observed.
const DefaultSafetyBuffer = 100

// BudgetTracker holds the last known upstream quota state. One instance is
// shared by every caller in the process; it is advisory backpressure, not a
// hard lock.
type BudgetTracker struct {
	mu        sync.Mutex
	remaining int
	exhausted bool
	resetAt   time.Time

	buffer int
	now    func() time.Time
}

// NewBudgetTracker returns a tracker that trips once the reported remaining
// quota drops to buffer or below. A non-positive buffer uses the default.
func NewBudgetTracker(buffer int) *BudgetTracker {
	if buffer <= 0 {
		buffer = DefaultSafetyBuffer
	}
	return &BudgetTracker{buffer: buffer, now: time.Now}
}

// SetClock overrides the tracker's clock. Tests only.
func (t *BudgetTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// RecordUsage ingests the quota headers of an upstream response. Crossing
// the safety buffer marks the budget exhausted until now+resetSeconds; a
// later call replaces any previously scheduled reset rather than stacking.
func (t *BudgetTracker) RecordUsage(remaining, resetSeconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.remaining = remaining
	if remaining > t.buffer {
		t.exhausted = false
		return
	}

	t.exhausted = true
	t.resetAt = t.now().Add(time.Duration(resetSeconds) * time.Second)
	log.Printf("[WARN] upstream budget exhausted: remaining=%d buffer=%d resetAt=%s",
		remaining, t.buffer, t.resetAt.UTC().Format(time.RFC3339))
}

// IsExhausted reports whether outgoing calls should be blocked. The reset
// deadline is checked lazily so a missed timer never wedges the tracker.
func (t *BudgetTracker) IsExhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exhausted && !t.now().Before(t.resetAt) {
		t.exhausted = false
	}
	return t.exhausted
}

// Remaining returns the last remaining-quota count reported by upstream.
func (t *BudgetTracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}
