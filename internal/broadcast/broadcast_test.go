package broadcast

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/nidhogg/nuka-stream/internal/ids"
	"github.com/nidhogg/nuka-stream/internal/insight"
	"github.com/nidhogg/nuka-stream/internal/window"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestComputePriority(t *testing.T) {
	recent := func(n int) []activity.Event {
		var out []activity.Event
		for i := 0; i < n; i++ {
			out = append(out, activity.Event{ID: fmt.Sprint(i), Timestamp: now.Add(-10 * time.Second)})
		}
		return out
	}

	tests := []struct {
		name string
		w    *window.Window
		want int
	}{
		{"default", &window.Window{RelevanceScore: 0.5}, 3},
		{"busy", &window.Window{RelevanceScore: 0.5, Events: recent(6)}, 5},
		{"five events is not busy", &window.Window{RelevanceScore: 0.5, Events: recent(5)}, 3},
		{"relevant", &window.Window{RelevanceScore: 0.9, Events: recent(6)}, 7},
		{"urgent", &window.Window{RelevanceScore: 0.9, Insights: []insight.Insight{{Urgency: 0.8}}}, 8},
		{"urgency boundary", &window.Window{RelevanceScore: 0.5, Insights: []insight.Insight{{Urgency: 0.7}}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputePriority(tt.w, now); got != tt.want {
				t.Errorf("priority = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUrgentInsightOutsideRecentFiveIgnored(t *testing.T) {
	w := &window.Window{RelevanceScore: 0.5, Insights: []insight.Insight{{Urgency: 0.9}}}
	for i := 0; i < UpdateInsights; i++ {
		w.Insights = append(w.Insights, insight.Insight{Urgency: 0.1})
	}
	if got := ComputePriority(w, now); got != 3 {
		t.Errorf("priority = %d, want 3", got)
	}
}

func TestInsightMessage(t *testing.T) {
	in := insight.Insight{ID: "i1", Urgency: 0.75, Category: insight.CategoryWarning, Tag: "focus"}
	msg := NewInsightMessage("s1", window.Window{}.Context, in, now, &ids.Sequence{})
	if msg.Type != TypeInsight || msg.Priority != 8 {
		t.Errorf("msg = %+v, want insight priority 8", msg)
	}
	if msg.ExpiresAt == nil || !msg.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("expires = %v", msg.ExpiresAt)
	}
	if msg.Expired(now.Add(59*time.Minute)) || !msg.Expired(now.Add(61*time.Minute)) {
		t.Error("expiry check wrong")
	}

	zero := NewInsightMessage("s1", window.Window{}.Context, insight.Insight{}, now, &ids.Sequence{})
	if zero.Priority != MinPriority {
		t.Errorf("zero urgency priority = %d, want %d", zero.Priority, MinPriority)
	}
}

func TestContextUpdatePayload(t *testing.T) {
	w := &window.Window{ID: "ctx_1", SessionID: "s1", RelevanceScore: 0.4}
	for i := 0; i < 8; i++ {
		w.Insights = append(w.Insights, insight.Insight{ID: fmt.Sprintf("i%d", i)})
		w.Events = append(w.Events, activity.Event{ID: fmt.Sprint(i), Timestamp: now.Add(-time.Hour)})
	}
	msg := NewContextUpdate(w, now, &ids.Sequence{})
	p, ok := msg.Payload.(ContextUpdatePayload)
	if !ok {
		t.Fatalf("payload type %T", msg.Payload)
	}
	if len(p.Insights) != 5 || p.Insights[4].ID != "i7" {
		t.Errorf("insights = %+v", p.Insights)
	}
	if p.EventCount != 8 || msg.SessionID != "s1" || msg.Metadata["window_id"] != "ctx_1" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestSystemAndAlertMessages(t *testing.T) {
	gen := &ids.Sequence{}
	if m := NewSystemMessage("started", "", now, gen); m.Priority != 1 || m.Type != TypeSystem {
		t.Errorf("system = %+v", m)
	}
	if m := NewAlert("flush_failed", errors.New("boom"), now, gen); m.Type != TypeAlert || m.Priority != 9 {
		t.Errorf("alert = %+v", m)
	}
}

func TestPublishIsolatesPanics(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	var got []string
	b.Subscribe(func(Message) { panic("bad subscriber") })
	b.Subscribe(func(m Message) { got = append(got, m.ID) })

	if n := b.Publish(Message{ID: "m1"}); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if len(got) != 1 || got[0] != "m1" {
		t.Errorf("healthy subscriber got %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	count := 0
	unsub := b.Subscribe(func(Message) { count++ })
	b.Publish(Message{ID: "a"})
	unsub()
	unsub()
	b.Publish(Message{ID: "b"})
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d", b.SubscriberCount())
	}
}

func TestUnsubscribeDuringDelivery(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	var unsub func()
	calls := 0
	unsub = b.Subscribe(func(Message) {
		calls++
		unsub()
	})
	b.Publish(Message{ID: "a"})
	b.Publish(Message{ID: "b"})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestHistoryBounded(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	for i := 0; i < HistorySize+20; i++ {
		b.Publish(Message{ID: fmt.Sprintf("m%d", i)})
	}
	h := b.History(0)
	if len(h) != HistorySize {
		t.Fatalf("history = %d, want %d", len(h), HistorySize)
	}
	if h[0].ID != "m20" {
		t.Errorf("oldest = %s, want m20", h[0].ID)
	}
	if last := b.History(2); len(last) != 2 || last[1].ID != fmt.Sprintf("m%d", HistorySize+19) {
		t.Errorf("last two = %+v", last)
	}
}
