package builder

import (
	"strings"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
)

const (
	// RecentEventLimit caps the recent-event window in the assistant context.
	RecentEventLimit = 20
	// intentLookback is how many of the latest events feed intent inference.
	intentLookback = 5
)

// Intent labels the user's inferred short-term goal.
type Intent string

const (
	IntentUnknown       Intent = "unknown"
	IntentDeveloping    Intent = "developing"
	IntentCommunicating Intent = "communicating"
	IntentResearching   Intent = "researching"
	IntentWriting       Intent = "writing"
	IntentPlanning      Intent = "planning"
	IntentOrganizing    Intent = "organizing"
)

// CurrentActivity describes the most recent event in plain fields.
type CurrentActivity struct {
	Type      activity.Type `json:"type"`
	Action    string        `json:"action,omitempty"`
	Title     string        `json:"title,omitempty"`
	URL       string        `json:"url,omitempty"`
	AppName   string        `json:"app_name,omitempty"`
	Project   string        `json:"project,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// IntentGuess is the inferred intent plus how strongly recent events agree.
type IntentGuess struct {
	Primary    Intent   `json:"primary"`
	Confidence float64  `json:"confidence"`
	Signals    []string `json:"signals,omitempty"`
}

// Preferences are placeholders until the assistant supplies real ones.
type Preferences struct {
	Verbosity            string `json:"verbosity"`
	ProactiveSuggestions bool   `json:"proactive_suggestions"`
	NotificationLevel    string `json:"notification_level"`
}

// DefaultPreferences returns the placeholder preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		Verbosity:            "balanced",
		ProactiveSuggestions: true,
		NotificationLevel:    "normal",
	}
}

// AssistantContext is the snapshot handed to the assistant collaborator.
type AssistantContext struct {
	Current      CurrentActivity  `json:"current_activity"`
	RecentEvents []activity.Event `json:"recent_events"`
	Intent       IntentGuess      `json:"intent"`
	Preferences  Preferences      `json:"preferences"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// BuildAssistantContext assembles a fresh snapshot from events.
func BuildAssistantContext(events []activity.Event, now time.Time) AssistantContext {
	recent := copyTail(activity.Sorted(events), RecentEventLimit)
	return AssistantContext{
		Current:      currentActivity(recent),
		RecentEvents: recent,
		Intent:       InferIntent(recent),
		Preferences:  DefaultPreferences(),
		UpdatedAt:    now,
	}
}

// UpdateAssistantContext merges newEvents into an existing snapshot, keeping
// its preferences and the last RecentEventLimit events.
func UpdateAssistantContext(prev AssistantContext, newEvents []activity.Event, now time.Time) AssistantContext {
	merged := make([]activity.Event, 0, len(prev.RecentEvents)+len(newEvents))
	merged = append(merged, prev.RecentEvents...)
	merged = append(merged, newEvents...)
	recent := copyTail(activity.Sorted(merged), RecentEventLimit)

	return AssistantContext{
		Current:      currentActivity(recent),
		RecentEvents: recent,
		Intent:       InferIntent(recent),
		Preferences:  prev.Preferences,
		UpdatedAt:    now,
	}
}

// InferIntent votes over the latest events. Confidence is the winning share.
func InferIntent(events []activity.Event) IntentGuess {
	latest := activity.Tail(events, intentLookback)
	if len(latest) == 0 {
		return IntentGuess{Primary: IntentUnknown}
	}

	votes := make(map[Intent]int)
	var signals []string
	for _, e := range latest {
		in := intentOf(e)
		votes[in]++
		if e.Metadata.Action != "" {
			signals = append(signals, string(e.Type)+":"+e.Metadata.Action)
		} else {
			signals = append(signals, string(e.Type))
		}
	}

	best := IntentUnknown
	bestN := 0
	for in, n := range votes {
		if n > bestN || (n == bestN && in < best) {
			best, bestN = in, n
		}
	}
	return IntentGuess{
		Primary:    best,
		Confidence: float64(bestN) / float64(len(latest)),
		Signals:    signals,
	}
}

func intentOf(e activity.Event) Intent {
	action := strings.ToLower(e.Metadata.Action)
	switch e.Type {
	case activity.TypeCode, activity.TypeGitHub:
		return IntentDeveloping
	case activity.TypeEmail, activity.TypeChat:
		return IntentCommunicating
	case activity.TypeDocument:
		return IntentWriting
	case activity.TypeCalendar:
		return IntentPlanning
	case activity.TypeFile:
		return IntentOrganizing
	case activity.TypeBrowserTab, activity.TypeBrowserNavigation:
		if strings.Contains(action, "search") || strings.Contains(action, "read") {
			return IntentResearching
		}
		if strings.Contains(e.Domain(), "github") {
			return IntentDeveloping
		}
		return IntentResearching
	}
	return IntentUnknown
}

func currentActivity(events []activity.Event) CurrentActivity {
	if len(events) == 0 {
		return CurrentActivity{}
	}
	e := events[len(events)-1]
	return CurrentActivity{
		Type:      e.Type,
		Action:    e.Metadata.Action,
		Title:     e.Metadata.Title,
		URL:       e.Metadata.URL,
		AppName:   e.Metadata.AppName,
		Project:   e.Project(),
		StartedAt: e.Timestamp,
	}
}

func copyTail(events []activity.Event, n int) []activity.Event {
	tail := activity.Tail(events, n)
	out := make([]activity.Event, len(tail))
	copy(out, tail)
	return out
}
