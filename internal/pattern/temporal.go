package pattern

import (
	"fmt"
	"sort"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
)

func temporalPatterns(events []activity.Event, now time.Time, opts Options) []Pattern {
	th := opts.Thresholds
	var out []Pattern

	hours := make(map[int][]activity.Event)
	days := make(map[time.Weekday][]activity.Event)
	for _, e := range events {
		hours[e.Timestamp.Hour()] = append(hours[e.Timestamp.Hour()], e)
		days[e.Timestamp.Weekday()] = append(days[e.Timestamp.Weekday()], e)
	}

	hourKeys := make([]int, 0, len(hours))
	for h := range hours {
		hourKeys = append(hourKeys, h)
	}
	sort.Ints(hourKeys)
	for _, h := range hourKeys {
		bucket := hours[h]
		if len(bucket) < th.HourBucketMin {
			continue
		}
		typ, n := dominantType(bucket)
		if n < th.HourDominantMin {
			continue
		}
		p := opts.newPattern(KindTemporal, fmt.Sprintf("hour:%02d:%s", h, typ), now, bucket)
		p.Description = fmt.Sprintf("Frequent %s activity around %02d:00", typ, h)
		p.Frequency = n
		p.Confidence = float64(n) / float64(len(bucket))
		out = append(out, p)
	}

	for d := time.Sunday; d <= time.Saturday; d++ {
		bucket := days[d]
		if len(bucket) < th.WeekdayBucketMin {
			continue
		}
		if span := activeSpan(bucket); span <= th.WeekdaySpanMin {
			continue
		}
		typ, _ := dominantType(bucket)
		p := opts.newPattern(KindTemporal, "weekday:"+d.String(), now, bucket)
		p.Description = fmt.Sprintf("Long active %ss, mostly %s", d, typ)
		p.Frequency = len(bucket)
		p.Confidence = th.WeekdayConf
		out = append(out, p)
	}
	return out
}

// activeSpan is the time between the first and last event of a bucket,
// measured by time of day so different weeks overlay.
func activeSpan(events []activity.Event) time.Duration {
	var first, last time.Duration
	for i, e := range events {
		tod := time.Duration(e.Timestamp.Hour())*time.Hour +
			time.Duration(e.Timestamp.Minute())*time.Minute +
			time.Duration(e.Timestamp.Second())*time.Second
		if i == 0 || tod < first {
			first = tod
		}
		if i == 0 || tod > last {
			last = tod
		}
	}
	return last - first
}

func dominantType(events []activity.Event) (activity.Type, int) {
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
