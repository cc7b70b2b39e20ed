package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTracker(buffer int) (*BudgetTracker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 12, 30, 12, 0, 0, 0, time.UTC)}
	tr := NewBudgetTracker(buffer)
	tr.SetClock(clk.Now)
	return tr, clk
}

func TestHealthyBudgetNotExhausted(t *testing.T) {
	tr, _ := newTestTracker(100)
	tr.RecordUsage(5000, 60)
	if tr.IsExhausted() {
		t.Fatal("expected healthy budget")
	}
	if got := tr.Remaining(); got != 5000 {
		t.Fatalf("Remaining = %d, want 5000", got)
	}
}

func TestExhaustedAtBuffer(t *testing.T) {
	tr, _ := newTestTracker(100)
	tr.RecordUsage(100, 60)
	if !tr.IsExhausted() {
		t.Fatal("remaining == buffer should exhaust the budget")
	}
}

func TestRecoversAfterReset(t *testing.T) {
	tr, clk := newTestTracker(100)
	tr.RecordUsage(50, 60)
	if !tr.IsExhausted() {
		t.Fatal("expected exhausted budget")
	}

	clk.Advance(59 * time.Second)
	if !tr.IsExhausted() {
		t.Fatal("reset deadline not reached yet")
	}

	clk.Advance(time.Second)
	if tr.IsExhausted() {
		t.Fatal("expected budget to recover at resetAt without an explicit reset")
	}
}

func TestLaterUsageSupersedesReset(t *testing.T) {
	tr, clk := newTestTracker(100)
	tr.RecordUsage(50, 60)
	clk.Advance(30 * time.Second)
	tr.RecordUsage(40, 60) // replaces the earlier deadline

	clk.Advance(31 * time.Second) // 61s after the first call, 31s after the second
	if !tr.IsExhausted() {
		t.Fatal("first reset deadline should have been superseded")
	}

	clk.Advance(29 * time.Second)
	if tr.IsExhausted() {
		t.Fatal("expected recovery at the superseding deadline")
	}
}

func TestHealthyUsageClearsExhaustion(t *testing.T) {
	tr, _ := newTestTracker(100)
	tr.RecordUsage(50, 3600)
	tr.RecordUsage(4000, 3600)
	if tr.IsExhausted() {
		t.Fatal("healthy remaining count should clear the exhausted flag")
	}
}
