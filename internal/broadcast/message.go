package broadcast

import (
	"math"
	"time"

	"github.com/nidhogg/nuka-stream/internal/builder"
	"github.com/nidhogg/nuka-stream/internal/ids"
	"github.com/nidhogg/nuka-stream/internal/insight"
	"github.com/nidhogg/nuka-stream/internal/pattern"
	"github.com/nidhogg/nuka-stream/internal/window"
)

// MessageType identifies the kind of stream message.
type MessageType string

const (
	TypeContextUpdate MessageType = "context_update"
	TypeInsight       MessageType = "insight"
	TypeAlert         MessageType = "alert"
	TypeSystem        MessageType = "system"
)

const (
	MinPriority = 1
	MaxPriority = 10

	// Numbers of insights and patterns carried by a context update.
	UpdateInsights = 5
	UpdatePatterns = 3

	InsightTTL = time.Hour
)

// Message is one outbound stream message. Treat it as immutable once built.
type Message struct {
	ID        string                   `json:"id"`
	Type      MessageType              `json:"type"`
	Timestamp time.Time                `json:"timestamp"`
	SessionID string                   `json:"session_id,omitempty"`
	Context   builder.AssistantContext `json:"context"`
	Payload   any                      `json:"payload,omitempty"`
	Priority  int                      `json:"priority"`
	ExpiresAt *time.Time               `json:"expires_at,omitempty"`
	Metadata  map[string]string        `json:"metadata,omitempty"`
}

// ContextUpdatePayload is the payload of a context_update message.
type ContextUpdatePayload struct {
	ActivitySummary builder.ActivitySummary `json:"activity_summary"`
	Insights        []insight.Insight       `json:"insights"`
	Patterns        []pattern.Pattern       `json:"patterns"`
	RelevanceScore  float64                 `json:"relevance_score"`
	EventCount      int                     `json:"event_count"`
}

// SystemPayload is the payload of a system message.
type SystemPayload struct {
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// ComputePriority scores a window update. Each rule can only raise the
// priority and the result is clamped to [MinPriority, MaxPriority].
func ComputePriority(w *window.Window, now time.Time) int {
	p := 3
	for _, in := range w.RecentInsights(UpdateInsights) {
		if in.Urgency > 0.7 {
			p = max(p, 8)
			break
		}
	}
	if w.RelevanceScore > 0.8 {
		p = max(p, 7)
	}
	if w.EventsSince(now.Add(-time.Minute)) > 5 {
		p = max(p, 5)
	}
	return clampPriority(p)
}

func clampPriority(p int) int {
	return min(MaxPriority, max(MinPriority, p))
}

// NewContextUpdate wraps a window snapshot into a context_update message.
func NewContextUpdate(w *window.Window, now time.Time, gen ids.Generator) Message {
	return Message{
		ID:        gen.NewID("msg"),
		Type:      TypeContextUpdate,
		Timestamp: now,
		SessionID: w.SessionID,
		Context:   w.Context,
		Payload: ContextUpdatePayload{
			ActivitySummary: w.ActivitySummary,
			Insights:        w.RecentInsights(UpdateInsights),
			Patterns:        w.RecentPatterns(UpdatePatterns),
			RelevanceScore:  w.RelevanceScore,
			EventCount:      len(w.Events),
		},
		Priority: ComputePriority(w, now),
		Metadata: map[string]string{"window_id": w.ID},
	}
}

// NewInsightMessage wraps a single insight. Priority follows its urgency and
// the message expires after InsightTTL.
func NewInsightMessage(sessionID string, ctx builder.AssistantContext, in insight.Insight, now time.Time, gen ids.Generator) Message {
	expires := now.Add(InsightTTL)
	return Message{
		ID:        gen.NewID("msg"),
		Type:      TypeInsight,
		Timestamp: now,
		SessionID: sessionID,
		Context:   ctx,
		Payload:   in,
		Priority:  clampPriority(int(math.Ceil(in.Urgency * 10))),
		ExpiresAt: &expires,
		Metadata: map[string]string{
			"category": string(in.Category),
			"tag":      in.Tag,
		},
	}
}

// NewSystemMessage builds a lifecycle notification.
func NewSystemMessage(event, detail string, now time.Time, gen ids.Generator) Message {
	return Message{
		ID:        gen.NewID("msg"),
		Type:      TypeSystem,
		Timestamp: now,
		Payload:   SystemPayload{Event: event, Detail: detail},
		Priority:  MinPriority,
	}
}

// Expired reports whether the message has passed its expiry.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// NewAlert builds an operational alert, for example a failed flush.
func NewAlert(event string, err error, now time.Time, gen ids.Generator) Message {
	return Message{
		ID:        gen.NewID("msg"),
		Type:      TypeAlert,
		Timestamp: now,
		Payload:   SystemPayload{Event: event, Detail: err.Error()},
		Priority:  9,
	}
}
