package window

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/nidhogg/nuka-stream/internal/clock"
	"github.com/nidhogg/nuka-stream/internal/ids"
	"github.com/nidhogg/nuka-stream/internal/insight"
	"go.uber.org/zap"
)

var start = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestManager(opts Options) (*Manager, *clock.Manual) {
	clk := clock.NewManual(start)
	return NewManager(NewStore(), clk, &ids.Sequence{}, opts, zap.NewNop()), clk
}

func codeEvent(id string, session string, at time.Time) activity.Event {
	return activity.Event{
		ID:        id,
		Type:      activity.TypeCode,
		Timestamp: at,
		SessionID: session,
		Metadata:  activity.Metadata{Action: "edit-" + id, ProjectName: "nuka"},
	}
}

func TestProcessCreatesWindowAndTemporalInsight(t *testing.T) {
	m, _ := newTestManager(DefaultOptions())
	batch := []activity.Event{
		codeEvent("e1", "s1", start.Add(-20*time.Minute)),
		codeEvent("e2", "s1", start.Add(-10*time.Minute)),
		codeEvent("e3", "s1", start.Add(-5*time.Minute)),
	}
	res := m.Process(batch)
	if len(res.Updated) != 1 || len(res.Failed) != 0 {
		t.Fatalf("result = %+v", res)
	}

	w, ok := m.Get("s1")
	if !ok {
		t.Fatal("window not created")
	}
	if len(w.Events) != 3 {
		t.Errorf("events = %d, want 3", len(w.Events))
	}
	if w.RelevanceScore != 1.0 {
		t.Errorf("relevance = %v, want 1", w.RelevanceScore)
	}
	if w.ActivitySummary.DominantType != activity.TypeCode {
		t.Errorf("dominant = %s", w.ActivitySummary.DominantType)
	}

	var found bool
	for _, in := range w.Insights {
		if in.Category == insight.CategoryPattern && in.Confidence == 1.0 {
			found = true
		}
	}
	if !found {
		t.Errorf("no temporal pattern insight in %+v", w.Insights)
	}
	if res.NewInsights == 0 {
		t.Error("NewInsights = 0")
	}
}

func TestProcessGroupsBySession(t *testing.T) {
	m, _ := newTestManager(DefaultOptions())
	m.Process([]activity.Event{
		codeEvent("a1", "a", start),
		codeEvent("b1", "b", start),
		codeEvent("a2", "a", start),
	})
	if m.Len() != 2 {
		t.Fatalf("windows = %d, want 2", m.Len())
	}
	a, _ := m.Get("a")
	if len(a.Events) != 2 {
		t.Errorf("session a events = %d, want 2", len(a.Events))
	}
}

func TestSyntheticSessionPerCall(t *testing.T) {
	m, _ := newTestManager(DefaultOptions())
	m.Process([]activity.Event{codeEvent("x1", "", start), codeEvent("x2", "", start)})
	m.Process([]activity.Event{codeEvent("x3", "", start)})

	all := m.All()
	if len(all) != 2 {
		t.Fatalf("windows = %d, want 2 synthetic sessions", len(all))
	}
	for _, w := range all {
		if w.SessionID == "" {
			t.Error("synthetic session id is empty")
		}
		for _, e := range w.Events {
			if e.SessionID != w.SessionID {
				t.Errorf("event %s session = %q, want %q", e.ID, e.SessionID, w.SessionID)
			}
		}
	}
}

func TestDuplicateEventsIgnored(t *testing.T) {
	m, _ := newTestManager(DefaultOptions())
	e := codeEvent("dup", "s", start)
	m.Process([]activity.Event{e, e})
	res := m.Process([]activity.Event{e})
	if len(res.Updated) != 0 {
		t.Errorf("re-processing a seen event updated %d windows", len(res.Updated))
	}
	w, _ := m.Get("s")
	if len(w.Events) != 1 {
		t.Errorf("events = %d, want 1", len(w.Events))
	}
}

func composeEvents(session string, n int) []activity.Event {
	out := make([]activity.Event, n)
	for i := range out {
		out[i] = activity.Event{
			ID:        fmt.Sprintf("m%d", i+1),
			Type:      activity.TypeEmail,
			Timestamp: start.Add(time.Duration(i-n) * time.Minute),
			SessionID: session,
			Metadata:  activity.Metadata{Action: "compose"},
		}
	}
	return out
}

func TestTruncatedEventsNotReapplied(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxEventsPerContext = 5
	m, _ := newTestManager(opts)

	batch := composeEvents("s", 8)
	first := m.Process(batch)
	if first.Applied != 8 {
		t.Fatalf("applied = %d, want 8", first.Applied)
	}
	w, _ := m.Get("s")
	if len(w.Events) != 5 {
		t.Fatalf("events = %d, want 5 after truncation", len(w.Events))
	}
	insights := len(w.Insights)
	if insights == 0 {
		t.Fatal("expected insights for repeated compose events")
	}

	again := m.Process(batch)
	if again.Applied != 0 || again.NewInsights != 0 || len(again.Updated) != 0 {
		t.Errorf("replay applied %d events, %d insights, updated %d windows",
			again.Applied, again.NewInsights, len(again.Updated))
	}
	w, _ = m.Get("s")
	if len(w.Insights) != insights {
		t.Errorf("insights = %d after replay, want %d", len(w.Insights), insights)
	}
}

func TestSeenIDsBounded(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxEventsPerContext = 5
	opts.MaxSeenIDs = 6
	m, _ := newTestManager(opts)

	batch := composeEvents("s", 8)
	m.Process(batch)
	w, _ := m.Get("s")
	if len(w.seen) != 6 || w.seen[0] != "m3" {
		t.Fatalf("seen = %v, want the last 6 ids", w.seen)
	}
	if res := m.Process(batch[2:3]); res.Applied != 0 {
		t.Errorf("remembered id applied again")
	}
	if res := m.Process(batch[:1]); res.Applied != 1 {
		t.Errorf("forgotten id applied = %d, want 1", res.Applied)
	}
}

func TestTruncationKeepsNewest(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxEventsPerContext = 5
	m, _ := newTestManager(opts)

	var batch []activity.Event
	for i := 0; i < 12; i++ {
		batch = append(batch, codeEvent(fmt.Sprintf("e%02d", i), "s", start.Add(time.Duration(i)*time.Second)))
	}
	m.Process(batch[:7])
	m.Process(batch[7:])

	w, _ := m.Get("s")
	if len(w.Events) != 5 {
		t.Fatalf("events = %d, want 5", len(w.Events))
	}
	if w.Events[0].ID != "e07" || w.Events[4].ID != "e11" {
		t.Errorf("kept %s..%s, want e07..e11", w.Events[0].ID, w.Events[4].ID)
	}
	if len(w.Insights) > opts.MaxInsights || len(w.Patterns) > opts.MaxPatterns {
		t.Errorf("insights=%d patterns=%d exceed caps", len(w.Insights), len(w.Patterns))
	}
}

func TestInsightsCappedAtTwenty(t *testing.T) {
	m, clk := newTestManager(DefaultOptions())
	for i := 0; i < 30; i++ {
		clk.Advance(time.Minute)
		now := clk.Now()
		m.Process([]activity.Event{
			codeEvent(fmt.Sprintf("e%d-1", i), "s", now),
			codeEvent(fmt.Sprintf("e%d-2", i), "s", now),
			codeEvent(fmt.Sprintf("e%d-3", i), "s", now),
		})
	}
	w, _ := m.Get("s")
	if len(w.Insights) != 20 {
		t.Errorf("insights = %d, want 20", len(w.Insights))
	}
}

func TestDisabledInsights(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableInsights = false
	m, _ := newTestManager(opts)
	m.Process([]activity.Event{
		codeEvent("e1", "s", start),
		codeEvent("e2", "s", start),
		codeEvent("e3", "s", start),
	})
	w, _ := m.Get("s")
	if len(w.Insights) != 0 {
		t.Errorf("insights = %d, want 0", len(w.Insights))
	}
	if got := m.PeriodicInsights(); got != nil {
		t.Errorf("periodic = %+v, want nil", got)
	}
}

func TestEvictionAfterMaxAge(t *testing.T) {
	m, clk := newTestManager(DefaultOptions())
	m.Process([]activity.Event{codeEvent("e1", "s", start)})

	clk.Advance(29 * time.Minute)
	if removed := m.Evict(); len(removed) != 0 {
		t.Fatalf("evicted too early: %v", removed)
	}
	clk.Advance(2 * time.Minute)
	removed := m.Evict()
	if len(removed) != 1 || removed[0] != "s" {
		t.Fatalf("removed = %v", removed)
	}
	if _, ok := m.Get("s"); ok {
		t.Error("window still present after eviction")
	}
}

func TestEvictionScheduledOnManualClock(t *testing.T) {
	m, clk := newTestManager(DefaultOptions())
	m.Process([]activity.Event{codeEvent("e1", "s", start)})

	cancel := clk.Every(5*time.Minute, func() { m.Evict() })
	defer cancel()

	clk.Advance(35 * time.Minute)
	if _, ok := m.Get("s"); ok {
		t.Error("window survived the eviction sweep")
	}
}

func TestRelevanceDecaysAndClamps(t *testing.T) {
	cfg := DefaultDecayConfig()
	if got := Relevance(0, 30*time.Minute, 50, 50, 0.1, cfg); got != 1 {
		t.Errorf("fresh busy window = %v, want 1", got)
	}
	got := Relevance(30*time.Minute, 30*time.Minute, 0, 0, 0.1, cfg)
	if math.Abs(got-math.Exp(-1)) > 1e-9 {
		t.Errorf("one time constant = %v, want e^-1", got)
	}
	if got := Relevance(10*time.Hour, 30*time.Minute, 0, 0, 0.1, cfg); got != 0.1 {
		t.Errorf("stale window = %v, want floor 0.1", got)
	}
	boosted := Relevance(30*time.Minute, 30*time.Minute, 100, 100, 0.1, cfg)
	want := math.Exp(-1) * 2.0 * 1.5
	if math.Abs(boosted-math.Min(1, want)) > 1e-9 {
		t.Errorf("boosted = %v, want %v", boosted, math.Min(1, want))
	}
}

func TestRelevanceUsesPreviousUpdate(t *testing.T) {
	m, clk := newTestManager(DefaultOptions())
	m.Process([]activity.Event{codeEvent("c1", "s", start.Add(-time.Hour))})

	clk.Advance(20 * time.Minute)
	m.Process([]activity.Event{codeEvent("c2", "s", start.Add(-time.Hour))})

	w, _ := m.Get("s")
	want := math.Exp(-20.0 / 30.0)
	if math.Abs(w.RelevanceScore-want) > 1e-9 {
		t.Errorf("relevance = %v, want %v", w.RelevanceScore, want)
	}
	if !w.LastUpdated.Equal(clk.Now()) {
		t.Errorf("last updated = %v, want %v", w.LastUpdated, clk.Now())
	}
}

func TestRecentInsightsNewestFirst(t *testing.T) {
	m, clk := newTestManager(DefaultOptions())
	m.Process([]activity.Event{
		codeEvent("e1", "s", start),
		codeEvent("e2", "s", start),
		codeEvent("e3", "s", start),
	})
	clk.Advance(time.Minute)
	m.Process([]activity.Event{codeEvent("e4", "s", clk.Now())})

	got := m.RecentInsights("s", 0)
	if len(got) == 0 {
		t.Fatal("no insights")
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("insights not newest first: %v after %v", got[i].Timestamp, got[i-1].Timestamp)
		}
	}
	if !got[0].Timestamp.Equal(clk.Now()) {
		t.Errorf("newest = %v, want %v", got[0].Timestamp, clk.Now())
	}
	if one := m.RecentInsights("s", 1); len(one) != 1 {
		t.Errorf("limit 1 returned %d", len(one))
	}
	if none := m.RecentInsights("missing", 5); len(none) != 0 {
		t.Errorf("unknown session returned %d", len(none))
	}
}

func TestActiveSessions(t *testing.T) {
	m, clk := newTestManager(DefaultOptions())
	m.Process([]activity.Event{codeEvent("a1", "old", start)})
	clk.Advance(10 * time.Minute)
	m.Process([]activity.Event{codeEvent("b1", "new", clk.Now())})

	got := m.ActiveSessions(5 * time.Minute)
	if len(got) != 1 || got[0] != "new" {
		t.Errorf("active = %v, want [new]", got)
	}
}

func TestPeriodicInsightsFocus(t *testing.T) {
	m, clk := newTestManager(DefaultOptions())
	var batch []activity.Event
	types := []activity.Type{activity.TypeCode, activity.TypeChat}
	for i := 0; i < 16; i++ {
		batch = append(batch, activity.Event{
			ID:        fmt.Sprintf("f%d", i),
			Type:      types[i%2],
			SessionID: "s",
			Timestamp: start.Add(-time.Duration(16-i) * time.Minute),
		})
	}
	m.Process(batch)
	clk.Advance(time.Second)

	results := m.PeriodicInsights()
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	var focus bool
	for _, in := range results[0].Insights {
		if in.Tag == "focus" && in.Periodic {
			focus = true
		}
	}
	if !focus {
		t.Errorf("no focus insight in %+v", results[0].Insights)
	}
	w, _ := m.Get("s")
	if len(w.Insights) > 20 {
		t.Errorf("insights = %d, exceeds cap", len(w.Insights))
	}
}

func TestStoreUpdateNilDeletes(t *testing.T) {
	s := NewStore()
	s.Update("s", func(*Window) *Window { return &Window{SessionID: "s"} })
	if s.Len() != 1 {
		t.Fatal("window not stored")
	}
	s.Update("s", func(*Window) *Window { return nil })
	if s.Len() != 0 {
		t.Error("window not deleted")
	}
}

func TestWindowCloneIsIndependent(t *testing.T) {
	w := &Window{Events: []activity.Event{{ID: "a"}}}
	c := w.Clone()
	c.Events[0].ID = "b"
	if w.Events[0].ID != "a" {
		t.Error("clone shares event slice")
	}
}
