package pattern

import (
	"fmt"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/nidhogg/nuka-stream/internal/insight"
)

func behavioralPatterns(events []activity.Event, insights []insight.Insight, now time.Time, opts Options) []Pattern {
	var out []Pattern
	if p, ok := rapidInteraction(events, now, opts); ok {
		out = append(out, p)
	}
	if p, ok := insightResponsiveness(events, insights, now, opts); ok {
		out = append(out, p)
	}
	return out
}

// rapidInteraction fires when the mean gap between events is short.
func rapidInteraction(events []activity.Event, now time.Time, opts Options) (Pattern, bool) {
	th := opts.Thresholds
	if len(events) < th.RapidMinEvents || len(events) < 2 {
		return Pattern{}, false
	}
	total := events[len(events)-1].Timestamp.Sub(events[0].Timestamp)
	avg := total / time.Duration(len(events)-1)
	if avg >= th.RapidMaxGap {
		return Pattern{}, false
	}
	p := opts.newPattern(KindBehavioral, "rapid-interaction", now, events)
	p.Description = fmt.Sprintf("Rapid interaction: one event every %s on average", avg.Round(time.Second))
	p.Frequency = len(events)
	p.Confidence = th.RapidConf
	return p, true
}

// insightResponsiveness checks whether activity follows actionable insights.
func insightResponsiveness(events []activity.Event, insights []insight.Insight, now time.Time, opts Options) (Pattern, bool) {
	th := opts.Thresholds
	actionable := 0
	responded := 0
	var evidence []activity.Event
	for _, in := range insights {
		if in.ActionSuggested == "" {
			continue
		}
		actionable++
		deadline := in.Timestamp.Add(th.ResponseWindow)
		for _, e := range events {
			if e.Timestamp.After(in.Timestamp) && !e.Timestamp.After(deadline) {
				responded++
				evidence = append(evidence, e)
				break
			}
		}
	}
	if responded == 0 {
		return Pattern{}, false
	}
	p := opts.newPattern(KindBehavioral, "responsive-to-insights", now, evidence)
	p.Description = fmt.Sprintf("Acted within an hour on %d of %d suggestions", responded, actionable)
	p.Frequency = responded
	p.Confidence = float64(responded) / float64(actionable)
	return p, true
}
