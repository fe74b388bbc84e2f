package insight

import (
	"fmt"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
)

// GeneratePeriodic returns the timer-driven insights for one window. These
// carry fixed confidences and are not run through the confidence filter.
func GeneratePeriodic(events []activity.Event, now time.Time, opts Options) []Insight {
	var out []Insight

	if in, ok := productivityWarning(events, now, opts); ok {
		in.Periodic = true
		in.Tag = "productivity-trend"
		out = append(out, in)
	}

	th := opts.Thresholds
	if score, switches := DistractionScore(events, now, th); score > th.DistractionThreshold {
		in := opts.newInsight(now, CategoryWarning, "focus")
		in.Title = "Frequent context switching"
		in.Description = fmt.Sprintf("%d context switches in the last hour", switches)
		in.Confidence = 0.8
		in.Relevance = 0.8
		in.Urgency = 0.7
		in.Evidence = activity.Tail(activity.Since(events, now.Add(-th.DistractionWindow)), 5)
		in.ActionSuggested = "Close unrelated tabs and pick one task for the next 25 minutes"
		in.Periodic = true
		out = append(out, in)
	}

	if ratio, n, ok := workRatio(events, now, th); ok && ratio > th.BalanceThreshold {
		in := opts.newInsight(now, CategoryWarning, "work-life-balance")
		in.Title = "Work-life balance"
		in.Description = fmt.Sprintf("%.0f%% of %d events this week were work", ratio*100, n)
		in.Confidence = 0.7
		in.Relevance = 0.6
		in.Urgency = 0.6
		in.ActionSuggested = "Schedule some time off this week"
		in.Periodic = true
		out = append(out, in)
	}
	return out
}

// DistractionScore counts context switches in the trailing window and scales
// them into [0,1]. A switch is a change of event type, or of domain between
// two browser events.
func DistractionScore(events []activity.Event, now time.Time, th Thresholds) (float64, int) {
	recent := activity.Sorted(activity.Since(events, now.Add(-th.DistractionWindow)))
	switches := 0
	for i := 1; i < len(recent); i++ {
		prev, cur := recent[i-1], recent[i]
		if prev.Type != cur.Type || prev.Domain() != cur.Domain() {
			switches++
		}
	}
	return min(1, float64(switches)/th.DistractionDivisor), switches
}

func workRatio(events []activity.Event, now time.Time, th Thresholds) (float64, int, bool) {
	week := activity.Since(events, now.Add(-th.BalanceWindow))
	if len(week) == 0 || len(week) < th.BalanceMinSamples {
		return 0, len(week), false
	}
	return float64(th.WorkTypes.Count(week)) / float64(len(week)), len(week), true
}
