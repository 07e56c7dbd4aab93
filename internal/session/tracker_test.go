package session

import (
	"testing"
	"time"

	"vita/internal/logging"
)

func newTestTracker(idle time.Duration) (*Tracker, *time.Time) {
	tracker := NewTracker(TrackerConfig{IdleTimeout: idle}, logging.Nop())
	current := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }
	return tracker, &current
}

func TestTouchCreatesThenRefreshes(t *testing.T) {
	tracker, current := newTestTracker(time.Hour)

	first := tracker.Touch("s1", "u1")
	if first.CreatedAt != *current || first.LastActivity != *current {
		t.Fatalf("new session must stamp creation and activity")
	}
	if first.CallCount != 1 {
		t.Fatalf("expected call count 1, got %d", first.CallCount)
	}

	*current = current.Add(10 * time.Minute)
	second := tracker.Touch("s1", "u1")
	if second.CreatedAt != first.CreatedAt {
		t.Fatalf("touch must not reset creation time")
	}
	if second.LastActivity != *current {
		t.Fatalf("touch must refresh last activity")
	}
	if second.CallCount != 2 {
		t.Fatalf("expected call count 2, got %d", second.CallCount)
	}
	if tracker.ActiveCount() != 1 {
		t.Fatalf("expected a single session")
	}
}

func TestSweepEvictsOnlyIdleSessions(t *testing.T) {
	tracker, current := newTestTracker(time.Hour)

	tracker.Touch("stale", "u1")
	*current = current.Add(2 * time.Hour)
	tracker.Touch("fresh", "u1")

	if evicted := tracker.Sweep(); evicted != 1 {
		t.Fatalf("expected one eviction, got %d", evicted)
	}
	if _, ok := tracker.Get("stale"); ok {
		t.Fatalf("stale session must be gone")
	}
	if _, ok := tracker.Get("fresh"); !ok {
		t.Fatalf("fresh session must survive the sweep")
	}
}

func TestEvictedSessionIsRecreatedOnTouch(t *testing.T) {
	tracker, current := newTestTracker(0)

	// IdleTimeout 0 falls back to the default; force immediate staleness
	// with an explicit zero threshold instead.
	tracker.idleTimeout = time.Nanosecond
	tracker.Touch("s1", "u1")
	*current = current.Add(time.Second)
	if evicted := tracker.Sweep(); evicted != 1 {
		t.Fatalf("expected eviction with zero idle threshold, got %d", evicted)
	}

	recreated := tracker.Touch("s1", "u1")
	if recreated.CallCount != 1 {
		t.Fatalf("recreated session must start fresh, got count %d", recreated.CallCount)
	}
	if !recreated.Active {
		t.Fatalf("recreated session must be active")
	}
}

func TestCountByCaller(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)

	tracker.Touch("a1", "alice")
	tracker.Touch("a2", "alice")
	tracker.Touch("b1", "bob")

	if n := tracker.CountByCaller("alice"); n != 2 {
		t.Fatalf("expected 2 sessions for alice, got %d", n)
	}
	if n := tracker.CountByCaller("carol"); n != 0 {
		t.Fatalf("expected 0 sessions for carol, got %d", n)
	}
}

func TestSweepLoopStops(t *testing.T) {
	tracker := NewTracker(TrackerConfig{IdleTimeout: time.Hour, SweepInterval: 10 * time.Millisecond}, logging.Nop())
	tracker.Start()
	tracker.Touch("s1", "u1")
	time.Sleep(30 * time.Millisecond)
	tracker.Stop()
	tracker.Stop() // second stop must be a no-op

	if _, ok := tracker.Get("s1"); !ok {
		t.Fatalf("non-idle session must survive the running sweep")
	}
}
