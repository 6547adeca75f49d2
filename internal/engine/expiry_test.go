package engine

import (
	"sort"
	"testing"
	"time"
)

func TestExpiryManager_SweepReturnsOnlyDueOrders(t *testing.T) {
	m := NewExpiryManager(time.Minute, func(string) {}, discardLogger())
	base := time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC)

	m.Track("order-1", base.Add(-time.Minute))
	m.Track("order-2", base)
	m.Track("order-3", base.Add(time.Hour))

	due := m.Sweep(base)
	sort.Strings(due)
	if len(due) != 2 || due[0] != "order-1" || due[1] != "order-2" {
		t.Fatalf("expected [order-1 order-2], got %v", due)
	}
	if m.Tracked() != 1 {
		t.Fatalf("expected 1 order still tracked, got %d", m.Tracked())
	}

	// Swept orders do not come back.
	if again := m.Sweep(base); len(again) != 0 {
		t.Fatalf("expected empty second sweep, got %v", again)
	}
}

func TestExpiryManager_UntrackRemovesDeadline(t *testing.T) {
	m := NewExpiryManager(time.Minute, func(string) {}, discardLogger())
	base := time.Now()

	m.Track("order-1", base.Add(-time.Minute))
	m.Untrack("order-1")
	m.Untrack("order-1") // second untrack is a no-op

	if due := m.Sweep(base); len(due) != 0 {
		t.Fatalf("untracked order must not expire, got %v", due)
	}
}

func TestExpiryManager_TrackReplacesDeadline(t *testing.T) {
	m := NewExpiryManager(time.Minute, func(string) {}, discardLogger())
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	m.Track("order-1", base)
	m.Track("order-1", base.Add(time.Hour))

	if due := m.Sweep(base); len(due) != 0 {
		t.Fatalf("expected no due orders after deadline extension, got %v", due)
	}
	if m.Tracked() != 1 {
		t.Fatalf("expected exactly 1 tracked order, got %d", m.Tracked())
	}
	if due := m.Sweep(base.Add(time.Hour)); len(due) != 1 {
		t.Fatalf("expected order due at extended deadline, got %v", due)
	}
}

func TestExpiryManager_TiedDeadlines(t *testing.T) {
	m := NewExpiryManager(time.Minute, func(string) {}, discardLogger())
	deadline := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	m.Track("order-a", deadline)
	m.Track("order-b", deadline)

	due := m.Sweep(deadline)
	sort.Strings(due)
	if len(due) != 2 || due[0] != "order-a" || due[1] != "order-b" {
		t.Fatalf("expected both tied orders, got %v", due)
	}
}

func TestEndOfDay(t *testing.T) {
	created := time.Date(2025, 6, 2, 15, 45, 12, 0, time.UTC)
	want := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	if got := EndOfDay(created); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
