// Package insight generates behavioral insights from activity events.
//
// Generate runs on every window update and filters candidates by confidence.
// GeneratePeriodic runs on a timer for live windows and keeps its fixed
// confidences.
package insight

import (
	"fmt"
	"sort"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
)

// Generate returns the event-triggered insights for a window that already
// held existing and just received newEvents.
func Generate(newEvents, existing []activity.Event, now time.Time, opts Options) []Insight {
	if len(newEvents) == 0 {
		return nil
	}
	all := make([]activity.Event, 0, len(existing)+len(newEvents))
	all = append(all, existing...)
	all = append(all, newEvents...)

	var candidates []Insight
	candidates = append(candidates, patternInsights(all, now, opts)...)
	candidates = append(candidates, opportunityInsights(all, now, opts)...)
	candidates = append(candidates, warningInsights(all, now, opts)...)
	candidates = append(candidates, achievementInsights(all, now, opts)...)

	out := candidates[:0]
	for _, in := range candidates {
		if in.Confidence > opts.Thresholds.MinConfidence {
			out = append(out, in)
		}
	}
	return out
}

// patternInsights flags hours of the day dominated by one activity type.
func patternInsights(events []activity.Event, now time.Time, opts Options) []Insight {
	th := opts.Thresholds
	buckets := make(map[int][]activity.Event)
	for _, e := range events {
		h := e.Timestamp.Hour()
		buckets[h] = append(buckets[h], e)
	}

	var out []Insight
	for _, hour := range sortedKeys(buckets) {
		bucket := buckets[hour]
		if len(bucket) < th.HourBucketMin {
			continue
		}
		typ, n := dominant(bucket)
		if n < th.HourDominantMin {
			continue
		}
		in := opts.newInsight(now, CategoryPattern, "temporal")
		in.Title = fmt.Sprintf("Recurring %s activity", typ)
		in.Description = fmt.Sprintf("%d of %d events around %02d:00 are %s", n, len(bucket), hour, typ)
		in.Confidence = float64(n) / float64(len(bucket))
		in.Relevance = 0.7
		in.Urgency = 0.3
		in.Evidence = ofType(bucket, typ)
		out = append(out, in)
	}
	return out
}

// opportunityInsights suggests automating repeated (type, action) pairs.
func opportunityInsights(events []activity.Event, now time.Time, opts Options) []Insight {
	th := opts.Thresholds
	type key struct {
		typ    activity.Type
		action string
	}
	groups := make(map[key][]activity.Event)
	var order []key
	for _, e := range events {
		k := key{e.Type, e.Metadata.Action}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	var out []Insight
	for _, k := range order {
		group := groups[k]
		if len(group) < th.OpportunityMin {
			continue
		}
		label := string(k.typ)
		if k.action != "" {
			label += " " + k.action
		}
		in := opts.newInsight(now, CategoryOpportunity, "automation")
		in.Title = "Automation opportunity: " + label
		in.Description = fmt.Sprintf("%q was repeated %d times", label, len(group))
		in.Confidence = min(1, float64(len(group))/th.OpportunityDivisor)
		in.Relevance = 0.8
		in.Urgency = 0.4
		in.Evidence = group
		in.ActionSuggested = fmt.Sprintf("Create a shortcut or template for %s", label)
		out = append(out, in)
	}
	return out
}

func warningInsights(events []activity.Event, now time.Time, opts Options) []Insight {
	var out []Insight
	if in, ok := longSessionWarning(events, now, opts); ok {
		out = append(out, in)
	}
	if in, ok := productivityWarning(events, now, opts); ok {
		out = append(out, in)
	}
	return out
}

// longSessionWarning finds an unbroken run of work that went on too long.
func longSessionWarning(events []activity.Event, now time.Time, opts Options) (Insight, bool) {
	th := opts.Thresholds
	var work []activity.Event
	for _, e := range activity.Sorted(events) {
		if th.WorkTypes.Has(e.Type) {
			work = append(work, e)
		}
	}
	if len(work) < th.LongSessionMinEvents {
		return Insight{}, false
	}

	var longest []activity.Event
	start := 0
	for i := 1; i <= len(work); i++ {
		if i < len(work) && work[i].Timestamp.Sub(work[i-1].Timestamp) < th.LongSessionGap {
			continue
		}
		run := work[start:i]
		span := run[len(run)-1].Timestamp.Sub(run[0].Timestamp)
		if span > th.LongSessionSpan && len(run) >= th.LongSessionMinEvents && len(run) > len(longest) {
			longest = run
		}
		start = i
	}
	if longest == nil {
		return Insight{}, false
	}

	span := longest[len(longest)-1].Timestamp.Sub(longest[0].Timestamp)
	in := opts.newInsight(now, CategoryWarning, "burnout")
	in.Title = "Long work session"
	in.Description = fmt.Sprintf("%d work events over %s without a 30 minute break", len(longest), span.Round(time.Minute))
	in.Confidence = 0.7
	in.Relevance = 0.9
	in.Urgency = 0.8
	in.Evidence = longest
	in.ActionSuggested = "Take a short break away from the screen"
	return in, true
}

// productivityWarning fires when productive work makes up too little of the
// trailing window.
func productivityWarning(events []activity.Event, now time.Time, opts Options) (Insight, bool) {
	ratio, recent, ok := productiveRatio(events, now, opts.Thresholds)
	if !ok || ratio >= opts.Thresholds.ProductivityFloor {
		return Insight{}, false
	}
	in := opts.newInsight(now, CategoryWarning, "productivity")
	in.Title = "Productivity declining"
	in.Description = fmt.Sprintf("Only %.0f%% of the last %d events were productive work", ratio*100, len(recent))
	in.Confidence = 0.6
	in.Relevance = 0.7
	in.Urgency = 0.5
	in.Evidence = activity.Tail(recent, 5)
	in.ActionSuggested = "Block out focused time for your main project"
	return in, true
}

func productiveRatio(events []activity.Event, now time.Time, th Thresholds) (float64, []activity.Event, bool) {
	recent := activity.Since(events, now.Add(-th.ProductivityWindow))
	if len(recent) == 0 || len(recent) < th.ProductivityMinSamples {
		return 0, recent, false
	}
	return float64(th.ProductiveTypes.Count(recent)) / float64(len(recent)), recent, true
}

func achievementInsights(events []activity.Event, now time.Time, opts Options) []Insight {
	th := opts.Thresholds
	recent := activity.Since(events, now.Add(-th.AchievementWindow))

	var pushes, code []activity.Event
	for _, e := range recent {
		switch {
		case e.Type == activity.TypeGitHub && e.Metadata.Action == "push":
			pushes = append(pushes, e)
		case e.Type == activity.TypeCode:
			code = append(code, e)
		}
	}

	var out []Insight
	if len(pushes) >= th.PushAchievementMin {
		in := opts.newInsight(now, CategoryAchievement, "shipping")
		in.Title = "Shipping streak"
		in.Description = fmt.Sprintf("%d pushes in the last 24 hours", len(pushes))
		in.Confidence = 0.9
		in.Relevance = 0.6
		in.Urgency = 0.2
		in.Evidence = activity.Tail(pushes, 10)
		out = append(out, in)
	}
	if len(code) >= th.CodeAchievementMin {
		in := opts.newInsight(now, CategoryAchievement, "coding")
		in.Title = "Productive coding day"
		in.Description = fmt.Sprintf("%d coding events in the last 24 hours", len(code))
		in.Confidence = 0.9
		in.Relevance = 0.6
		in.Urgency = 0.2
		in.Evidence = activity.Tail(code, 10)
		out = append(out, in)
	}
	return out
}

func dominant(events []activity.Event) (activity.Type, int) {
	counts := make(map[activity.Type]int)
	for _, e := range events {
		counts[e.Type]++
	}
	var best activity.Type
	n := 0
	for t, c := range counts {
		if c > n || (c == n && t < best) {
			best, n = t, c
		}
	}
	return best, n
}

func ofType(events []activity.Event, t activity.Type) []activity.Event {
	var out []activity.Event
	for _, e := range events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func sortedKeys(m map[int][]activity.Event) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
