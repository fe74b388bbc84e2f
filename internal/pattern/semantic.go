package pattern

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
)

func semanticPatterns(events []activity.Event, now time.Time, opts Options) []Pattern {
	var out []Pattern
	out = append(out, topicPatterns(events, now, opts)...)
	out = append(out, workflowPatterns(events, now, opts)...)
	return out
}

// topicPatterns groups events by shared enrichment topic.
func topicPatterns(events []activity.Event, now time.Time, opts Options) []Pattern {
	th := opts.Thresholds
	groups := make(map[string][]activity.Event)
	for _, e := range events {
		for _, topic := range e.Topics() {
			topic = strings.ToLower(strings.TrimSpace(topic))
			if topic != "" {
				groups[topic] = append(groups[topic], e)
			}
		}
	}

	topics := make([]string, 0, len(groups))
	for t := range groups {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	var out []Pattern
	for _, topic := range topics {
		group := groups[topic]
		if len(group) < th.TopicMin {
			continue
		}
		p := opts.newPattern(KindSemantic, "topic:"+topic, now, group)
		p.Description = fmt.Sprintf("Sustained engagement with %q", topic)
		p.Frequency = len(group)
		p.Confidence = min(1, float64(len(group))/th.TopicDivisor)
		out = append(out, p)
	}
	return out
}

// workflowPatterns counts recurring runs of consecutive actions.
func workflowPatterns(events []activity.Event, now time.Time, opts Options) []Pattern {
	th := opts.Thresholds
	n := th.SequenceLength
	if n <= 0 || len(events) < n {
		return nil
	}

	counts := make(map[string]int)
	evidence := make(map[string][]activity.Event)
	var order []string
	for i := 0; i+n <= len(events); i++ {
		steps := make([]string, n)
		for j := 0; j < n; j++ {
			steps[j] = step(events[i+j])
		}
		key := strings.Join(steps, " > ")
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
		evidence[key] = append(evidence[key], events[i:i+n]...)
	}

	var out []Pattern
	for _, key := range order {
		freq := counts[key]
		if freq < th.SequenceMin {
			continue
		}
		p := opts.newPattern(KindSemantic, "workflow:"+key, now, evidence[key])
		p.Description = "Recurring workflow: " + key
		p.Frequency = freq
		p.Confidence = min(1, float64(freq)/th.SequenceDivisor)
		out = append(out, p)
	}
	return out
}

func step(e activity.Event) string {
	if e.Metadata.Action == "" {
		return string(e.Type)
	}
	return string(e.Type) + ":" + e.Metadata.Action
}
