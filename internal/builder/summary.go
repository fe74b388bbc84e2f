// Package builder turns event slices into activity summaries and the
// assistant-facing context snapshot. Everything here is a pure function of its
// inputs; callers pass the current time explicitly.
package builder

import (
	"sort"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
)

// EnergyLevel is a coarse measure of recent activity intensity.
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

// ActivitySummary is recomputed from scratch on every window update.
type ActivitySummary struct {
	DominantType      activity.Type         `json:"dominant_type"`
	TypeDistribution  map[activity.Type]int `json:"type_distribution"`
	TimeSpan          time.Duration         `json:"time_span"`
	FocusScore        float64               `json:"focus_score"`
	ProductivityScore float64               `json:"productivity_score"`
	EnergyLevel       EnergyLevel           `json:"energy_level"`
	CurrentProjects   []string              `json:"current_projects"`
	Topics            []string              `json:"topics"`
}

// Options tunes summary derivation.
type Options struct {
	ProductiveTypes activity.TypeSet
	DominantWindow  time.Duration // lookback for the dominant type
	EnergyWindow    time.Duration // lookback for the energy level
	LowEnergyBelow  int           // fewer events than this is low energy
	HighEnergyAbove int           // more events than this is high energy
	MaxTopics       int
}

// DefaultProductiveTypes are the event types counted as productive work.
func DefaultProductiveTypes() activity.TypeSet {
	return activity.NewTypeSet(activity.TypeCode, activity.TypeGitHub, activity.TypeDocument)
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		ProductiveTypes: DefaultProductiveTypes(),
		DominantWindow:  time.Hour,
		EnergyWindow:    30 * time.Minute,
		LowEnergyBelow:  2,
		HighEnergyAbove: 10,
		MaxTopics:       10,
	}
}

// BuildActivitySummary derives the summary for events as of now.
func BuildActivitySummary(events []activity.Event, now time.Time, opts Options) ActivitySummary {
	s := ActivitySummary{
		TypeDistribution: make(map[activity.Type]int),
		EnergyLevel:      EnergyLow,
		CurrentProjects:  []string{},
		Topics:           []string{},
	}
	if len(events) == 0 {
		return s
	}

	for _, e := range events {
		s.TypeDistribution[e.Type]++
	}

	recent := activity.Since(events, now.Add(-opts.DominantWindow))
	if len(recent) == 0 {
		recent = events
	}
	s.DominantType = dominantType(recent)

	first, last := events[0].Timestamp, events[0].Timestamp
	for _, e := range events[1:] {
		if e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	s.TimeSpan = last.Sub(first)

	s.FocusScore = FocusScore(events)
	if opts.ProductiveTypes != nil {
		s.ProductivityScore = float64(opts.ProductiveTypes.Count(events)) / float64(len(events))
	}
	s.EnergyLevel = energyLevel(len(activity.Since(events, now.Add(-opts.EnergyWindow))), opts)
	s.CurrentProjects = projects(events)
	s.Topics = topics(events, opts.MaxTopics)
	return s
}

// FocusScore averages type consistency and domain consistency.
func FocusScore(events []activity.Event) float64 {
	types := make([]string, 0, len(events))
	var domains []string
	for _, e := range events {
		types = append(types, string(e.Type))
		if d := e.Domain(); d != "" {
			domains = append(domains, d)
		}
	}
	return (Consistency(types) + Consistency(domains)) / 2
}

// Consistency is the share of the most frequent item, 0 for an empty list.
func Consistency(items []string) float64 {
	if len(items) == 0 {
		return 0
	}
	counts := make(map[string]int)
	max := 0
	for _, it := range items {
		counts[it]++
		if counts[it] > max {
			max = counts[it]
		}
	}
	return float64(max) / float64(len(items))
}

// dominantType picks the most frequent type, breaking ties by name.
func dominantType(events []activity.Event) activity.Type {
	counts := make(map[activity.Type]int)
	for _, e := range events {
		counts[e.Type]++
	}
	var best activity.Type
	bestN := 0
	for t, n := range counts {
		if n > bestN || (n == bestN && t < best) {
			best, bestN = t, n
		}
	}
	return best
}

func energyLevel(recent int, opts Options) EnergyLevel {
	switch {
	case recent < opts.LowEnergyBelow:
		return EnergyLow
	case recent > opts.HighEnergyAbove:
		return EnergyHigh
	default:
		return EnergyMedium
	}
}

// projects lists distinct repository/project names in first-seen order.
func projects(events []activity.Event) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, e := range events {
		for _, p := range []string{e.Metadata.Repository, e.Metadata.ProjectName} {
			if p != "" && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// topics ranks enrichment topics by frequency, then name.
func topics(events []activity.Event, limit int) []string {
	counts := make(map[string]int)
	for _, e := range events {
		for _, t := range e.Topics() {
			if t != "" {
				counts[t]++
			}
		}
	}
	out := make([]string, 0, len(counts))
	for t := range counts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
