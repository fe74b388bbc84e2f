package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestManualAdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []string
	m.Every(time.Second, func() { order = append(order, "fast") })
	m.Every(3*time.Second, func() { order = append(order, "slow") })

	m.Advance(3 * time.Second)

	want := []string{"fast", "fast", "fast", "slow"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if got := m.Now(); !got.Equal(start.Add(3 * time.Second)) {
		t.Errorf("now = %v, want %v", got, start.Add(3*time.Second))
	}
}

func TestManualNowDuringTask(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var seen []time.Time
	m.Every(time.Minute, func() { seen = append(seen, m.Now()) })
	m.Advance(150 * time.Second)

	if len(seen) != 2 {
		t.Fatalf("got %d runs, want 2", len(seen))
	}
	if !seen[1].Equal(start.Add(2 * time.Minute)) {
		t.Errorf("second run at %v, want %v", seen[1], start.Add(2*time.Minute))
	}
}

func TestManualCancel(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	runs := 0
	cancel := m.Every(time.Second, func() { runs++ })
	m.Advance(2 * time.Second)
	cancel()
	cancel()
	m.Advance(5 * time.Second)

	if runs != 2 {
		t.Errorf("got %d runs, want 2", runs)
	}
	if m.Pending() != 0 {
		t.Errorf("got %d pending tasks, want 0", m.Pending())
	}
}

func TestSystemEveryAndCancel(t *testing.T) {
	s := NewSystem(zap.NewNop())
	var runs atomic.Int32
	cancel := s.Every(5*time.Millisecond, func() { runs.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	after := runs.Load()
	if after < 2 {
		t.Fatalf("got %d runs, want at least 2", after)
	}
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Errorf("task kept running after cancel")
	}
}

func TestSystemSurvivesPanic(t *testing.T) {
	s := NewSystem(zap.NewNop())
	var runs atomic.Int32
	cancel := s.Every(5*time.Millisecond, func() {
		runs.Add(1)
		panic("boom")
	})
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("task stopped after panic")
	}
}
