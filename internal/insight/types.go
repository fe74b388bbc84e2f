package insight

import (
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/nidhogg/nuka-stream/internal/ids"
)

// Category is the kind of observation an insight makes.
type Category string

const (
	CategoryPattern     Category = "pattern"
	CategoryOpportunity Category = "opportunity"
	CategoryWarning     Category = "warning"
	CategoryAchievement Category = "achievement"
	CategorySuggestion  Category = "suggestion"
)

// Insight is a generated observation about user behavior. Insights are
// append-only within a window and never mutated after creation.
type Insight struct {
	ID              string           `json:"id"`
	Category        Category         `json:"category"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Confidence      float64          `json:"confidence"`
	Relevance       float64          `json:"relevance"`
	Urgency         float64          `json:"urgency"`
	Tag             string           `json:"tag"`
	Timestamp       time.Time        `json:"timestamp"`
	Evidence        []activity.Event `json:"evidence,omitempty"`
	ActionSuggested string           `json:"action_suggested,omitempty"`
	Periodic        bool             `json:"periodic,omitempty"`
}

// Thresholds holds every tunable cut-off the engine uses. The stock values
// are heuristics; override them rather than reading meaning into them.
type Thresholds struct {
	MinConfidence float64 // event-triggered insights at or below this are dropped

	HourBucketMin   int // events an hour-of-day bucket needs
	HourDominantMin int // events the dominant type in the bucket needs

	OpportunityMin     int     // repeats of a (type, action) pair
	OpportunityDivisor float64 // confidence = min(1, n/divisor)

	LongSessionGap       time.Duration
	LongSessionSpan      time.Duration
	LongSessionMinEvents int

	ProductivityWindow     time.Duration
	ProductivityFloor      float64 // productive ratio below this is declining
	ProductivityMinSamples int     // 0 means no floor

	PushAchievementMin int
	CodeAchievementMin int
	AchievementWindow  time.Duration

	DistractionWindow    time.Duration
	DistractionDivisor   float64
	DistractionThreshold float64

	BalanceWindow     time.Duration
	BalanceThreshold  float64
	BalanceMinSamples int // 0 means no floor

	WorkTypes       activity.TypeSet
	ProductiveTypes activity.TypeSet
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence: 0.5,

		HourBucketMin:   3,
		HourDominantMin: 3,

		OpportunityMin:     3,
		OpportunityDivisor: 5,

		LongSessionGap:       30 * time.Minute,
		LongSessionSpan:      4 * time.Hour,
		LongSessionMinEvents: 10,

		ProductivityWindow:     24 * time.Hour,
		ProductivityFloor:      0.3,
		ProductivityMinSamples: 0,

		PushAchievementMin: 10,
		CodeAchievementMin: 20,
		AchievementWindow:  24 * time.Hour,

		DistractionWindow:    time.Hour,
		DistractionDivisor:   20,
		DistractionThreshold: 0.7,

		BalanceWindow:     7 * 24 * time.Hour,
		BalanceThreshold:  0.8,
		BalanceMinSamples: 0,

		WorkTypes: activity.NewTypeSet(
			activity.TypeCode, activity.TypeGitHub, activity.TypeDocument,
			activity.TypeEmail, activity.TypeCalendar,
		),
		ProductiveTypes: activity.NewTypeSet(
			activity.TypeCode, activity.TypeGitHub, activity.TypeDocument,
		),
	}
}

// Options bundles what a generation pass needs besides the events.
type Options struct {
	Thresholds Thresholds
	IDs        ids.Generator
}

func (o Options) newInsight(now time.Time, c Category, tag string) Insight {
	return Insight{
		ID:        o.IDs.NewID("insight"),
		Category:  c,
		Tag:       tag,
		Timestamp: now,
	}
}
