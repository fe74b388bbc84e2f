package activity

import "sort"

// Sorted returns a copy of events ordered by timestamp. Events with equal
// timestamps keep their submission order.
func Sorted(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Tail returns the last n events, or all of them when there are fewer.
func Tail(events []Event, n int) []Event {
	if n <= 0 {
		return nil
	}
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}
