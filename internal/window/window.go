package window

import (
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/nidhogg/nuka-stream/internal/builder"
	"github.com/nidhogg/nuka-stream/internal/insight"
	"github.com/nidhogg/nuka-stream/internal/pattern"
)

// Window is the live aggregate for one session.
type Window struct {
	ID              string                   `json:"id"`
	SessionID       string                   `json:"session_id"`
	Events          []activity.Event         `json:"events"`
	Context         builder.AssistantContext `json:"context"`
	LastUpdated     time.Time                `json:"last_updated"`
	RelevanceScore  float64                  `json:"relevance_score"`
	ActivitySummary builder.ActivitySummary  `json:"activity_summary"`
	Insights        []insight.Insight        `json:"insights"`
	Patterns        []pattern.Pattern        `json:"patterns"`

	seen []string // ids of applied events, oldest first; outlives truncation
}

// Clone returns a copy that shares no slices or maps with w.
func (w *Window) Clone() *Window {
	c := *w
	c.Events = append([]activity.Event(nil), w.Events...)
	c.Insights = append([]insight.Insight(nil), w.Insights...)
	c.Patterns = append([]pattern.Pattern(nil), w.Patterns...)
	c.seen = append([]string(nil), w.seen...)
	c.Context.RecentEvents = append([]activity.Event(nil), w.Context.RecentEvents...)
	c.ActivitySummary.TypeDistribution = make(map[activity.Type]int, len(w.ActivitySummary.TypeDistribution))
	for k, v := range w.ActivitySummary.TypeDistribution {
		c.ActivitySummary.TypeDistribution[k] = v
	}
	c.ActivitySummary.CurrentProjects = append([]string(nil), w.ActivitySummary.CurrentProjects...)
	c.ActivitySummary.Topics = append([]string(nil), w.ActivitySummary.Topics...)
	return &c
}

// RecentInsights returns up to n of the newest insights, oldest first.
func (w *Window) RecentInsights(n int) []insight.Insight {
	if n <= 0 || len(w.Insights) <= n {
		return w.Insights
	}
	return w.Insights[len(w.Insights)-n:]
}

// RecentPatterns returns up to n of the most recently observed patterns.
func (w *Window) RecentPatterns(n int) []pattern.Pattern {
	if n <= 0 || len(w.Patterns) <= n {
		return w.Patterns
	}
	return w.Patterns[len(w.Patterns)-n:]
}

// EventsSince counts events at or after cutoff.
func (w *Window) EventsSince(cutoff time.Time) int {
	n := 0
	for _, e := range w.Events {
		if !e.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}
