// Package broadcast builds stream messages from context windows and fans them
// out to subscribers.
package broadcast

import (
	"sync"

	"go.uber.org/zap"
)

// HistorySize is the number of messages kept for History.
const HistorySize = 100

// Subscriber receives every published message. It must not block. Publish
// holds no lock while calling it, so it may call back into the publisher.
type Subscriber func(msg Message)

// Broadcaster delivers messages to subscribers and keeps recent history.
type Broadcaster struct {
	subscribers map[uint64]Subscriber
	nextID      uint64
	history     []Message
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]Subscriber),
		logger:      logger,
	}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (b *Broadcaster) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = fn
	b.logger.Debug("subscriber added", zap.Uint64("subscriber", id), zap.Int("total", len(b.subscribers)))

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			b.logger.Debug("subscriber removed", zap.Uint64("subscriber", id))
		})
	}
}

// Publish sends msg to every subscriber registered at call time and returns
// how many received it without panicking.
func (b *Broadcaster) Publish(msg Message) int {
	b.mu.Lock()
	b.history = append(b.history, msg)
	if len(b.history) > HistorySize {
		b.history = append([]Message(nil), b.history[len(b.history)-HistorySize:]...)
	}
	subs := make(map[uint64]Subscriber, len(b.subscribers))
	for id, fn := range b.subscribers {
		subs[id] = fn
	}
	b.mu.Unlock()

	delivered := 0
	for id, fn := range subs {
		if b.deliver(id, fn, msg) {
			delivered++
		}
	}
	return delivered
}

func (b *Broadcaster) deliver(id uint64, fn Subscriber, msg Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.Uint64("subscriber", id),
				zap.String("message", msg.ID),
				zap.Any("panic", r))
			ok = false
		}
	}()
	fn(msg)
	return true
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// History returns up to limit of the most recent messages, oldest first.
func (b *Broadcaster) History(limit int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	return append([]Message(nil), b.history[len(b.history)-limit:]...)
}
