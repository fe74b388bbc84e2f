package stream

import "github.com/nidhogg/nuka-stream/internal/activity"

// eventBuffer is a bounded FIFO. Overflow drops the oldest events. It is not
// safe for concurrent use; Stream guards it with its mutex.
type eventBuffer struct {
	events   []activity.Event
	capacity int
}

func newEventBuffer(capacity int) *eventBuffer {
	return &eventBuffer{capacity: capacity}
}

// push appends events and returns how many old events were dropped.
func (b *eventBuffer) push(events []activity.Event) int {
	b.events = append(b.events, events...)
	return b.trim()
}

// requeue puts a failed batch back in front of newer events.
func (b *eventBuffer) requeue(batch []activity.Event) int {
	merged := make([]activity.Event, 0, len(batch)+len(b.events))
	merged = append(merged, batch...)
	merged = append(merged, b.events...)
	b.events = merged
	return b.trim()
}

func (b *eventBuffer) drain() []activity.Event {
	out := b.events
	b.events = nil
	return out
}

func (b *eventBuffer) resize(capacity int) int {
	b.capacity = capacity
	return b.trim()
}

func (b *eventBuffer) len() int { return len(b.events) }

func (b *eventBuffer) trim() int {
	over := len(b.events) - b.capacity
	if over <= 0 {
		return 0
	}
	b.events = append([]activity.Event(nil), b.events[over:]...)
	return over
}
