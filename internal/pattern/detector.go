// Package pattern mines recurring temporal, semantic and behavioral
// regularities from a window's events and insights.
package pattern

import (
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/nidhogg/nuka-stream/internal/ids"
	"github.com/nidhogg/nuka-stream/internal/insight"
)

// Kind groups patterns by what they describe.
type Kind string

const (
	KindTemporal   Kind = "temporal"
	KindSemantic   Kind = "semantic"
	KindBehavioral Kind = "behavioral"
)

// Pattern is a recurring structure observed across events. Signature
// identifies the same regularity across detection passes.
type Pattern struct {
	ID           string           `json:"id"`
	Kind         Kind             `json:"kind"`
	Signature    string           `json:"signature"`
	Description  string           `json:"description"`
	Frequency    int              `json:"frequency"`
	Confidence   float64          `json:"confidence"`
	LastObserved time.Time        `json:"last_observed"`
	Evidence     []activity.Event `json:"evidence,omitempty"`
}

// Thresholds holds the tunable cut-offs for every detector.
type Thresholds struct {
	HourBucketMin   int
	HourDominantMin int

	WeekdayBucketMin int
	WeekdaySpanMin   time.Duration
	WeekdayConf      float64

	TopicMin     int
	TopicDivisor float64

	SequenceLength  int
	SequenceMin     int
	SequenceDivisor float64

	RapidMinEvents int
	RapidMaxGap    time.Duration
	RapidConf      float64

	ResponseWindow time.Duration

	MaxEvidence int
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HourBucketMin:   5,
		HourDominantMin: 3,

		WeekdayBucketMin: 10,
		WeekdaySpanMin:   4 * time.Hour,
		WeekdayConf:      0.7,

		TopicMin:     5,
		TopicDivisor: 10,

		SequenceLength:  3,
		SequenceMin:     3,
		SequenceDivisor: 5,

		RapidMinEvents: 3,
		RapidMaxGap:    time.Minute,
		RapidConf:      0.8,

		ResponseWindow: time.Hour,

		MaxEvidence: 10,
	}
}

// Options bundles what a detection pass needs besides its inputs.
type Options struct {
	Thresholds Thresholds
	IDs        ids.Generator
}

// Detect runs every detector over a window's events and insights.
func Detect(events []activity.Event, insights []insight.Insight, now time.Time, opts Options) []Pattern {
	sorted := activity.Sorted(events)

	var out []Pattern
	out = append(out, temporalPatterns(sorted, now, opts)...)
	out = append(out, semanticPatterns(sorted, now, opts)...)
	out = append(out, behavioralPatterns(sorted, insights, now, opts)...)
	return out
}

func (o Options) newPattern(kind Kind, signature string, now time.Time, evidence []activity.Event) Pattern {
	if o.Thresholds.MaxEvidence > 0 {
		evidence = activity.Tail(evidence, o.Thresholds.MaxEvidence)
	}
	return Pattern{
		ID:           o.IDs.NewID("pattern"),
		Kind:         kind,
		Signature:    string(kind) + ":" + signature,
		LastObserved: now,
		Evidence:     evidence,
	}
}
