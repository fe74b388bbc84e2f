// Package sink delivers stream messages to external targets (Redis Streams,
// Slack, Discord, Neo4j) off the broadcast path.
package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nidhogg/nuka-stream/internal/broadcast"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink is an external delivery target.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg broadcast.Message) error
	Close() error
}

type target struct {
	sink        Sink
	minPriority int
}

// Hub queues published messages and delivers each one to every registered
// sink whose minimum priority it meets. Enqueue never blocks; a full queue
// drops the message.
type Hub struct {
	targets []target
	mu      sync.RWMutex

	queue   chan broadcast.Message
	timeout time.Duration
	dropped atomic.Int64
	now     func() time.Time
	logger  *zap.Logger
}

// NewHub creates a hub with the given queue size and per-delivery timeout.
func NewHub(queueSize int, timeout time.Duration, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Hub{
		queue:   make(chan broadcast.Message, queueSize),
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Register adds a sink. Messages below minPriority are not sent to it.
func (h *Hub) Register(s Sink, minPriority int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.targets = append(h.targets, target{sink: s, minPriority: minPriority})
	h.logger.Info("registered sink", zap.String("sink", s.Name()), zap.Int("min_priority", minPriority))
}

// Sinks returns the names of the registered sinks.
func (h *Hub) Sinks() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.targets))
	for _, t := range h.targets {
		names = append(names, t.sink.Name())
	}
	return names
}

// Enqueue is a broadcast.Subscriber.
func (h *Hub) Enqueue(msg broadcast.Message) {
	select {
	case h.queue <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Warn("sink queue full, dropping message",
			zap.String("message", msg.ID), zap.String("type", string(msg.Type)))
	}
}

// Dropped returns the number of messages dropped on a full queue.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Run delivers queued messages until ctx is cancelled. It then delivers what
// is still queued and closes the sinks.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			h.drain()
			return nil
		case msg := <-h.queue:
			h.Dispatch(ctx, msg)
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case msg := <-h.queue:
			h.Dispatch(context.Background(), msg)
		default:
			return
		}
	}
}

// Dispatch delivers one message to every eligible sink concurrently and
// returns how many succeeded. Failures are logged, never returned.
func (h *Hub) Dispatch(ctx context.Context, msg broadcast.Message) int {
	if msg.Expired(h.now()) {
		h.logger.Debug("skipping expired message", zap.String("message", msg.ID))
		return 0
	}

	h.mu.RLock()
	targets := append([]target(nil), h.targets...)
	h.mu.RUnlock()

	var ok atomic.Int32
	var g errgroup.Group
	for _, t := range targets {
		if msg.Priority < t.minPriority {
			continue
		}
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			if err := t.sink.Deliver(dctx, msg); err != nil {
				h.logger.Error("sink delivery failed",
					zap.String("sink", t.sink.Name()),
					zap.String("message", msg.ID),
					zap.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load())
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.targets {
		if err := t.sink.Close(); err != nil {
			h.logger.Warn("sink close failed", zap.String("sink", t.sink.Name()), zap.Error(err))
		}
	}
}
