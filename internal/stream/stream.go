// Package stream is the entry point of the context stream: it buffers
// submitted activity events, flushes them through the window manager on a
// schedule and publishes the resulting messages.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/nidhogg/nuka-stream/internal/broadcast"
	"github.com/nidhogg/nuka-stream/internal/clock"
	"github.com/nidhogg/nuka-stream/internal/ids"
	"github.com/nidhogg/nuka-stream/internal/insight"
	"github.com/nidhogg/nuka-stream/internal/window"
	"go.uber.org/zap"
)

var (
	// ErrStopped is returned by Submit while the stream is not running.
	ErrStopped = errors.New("stream is stopped")
	// ErrDisabled is returned by Submit when the stream is disabled by config.
	ErrDisabled = errors.New("stream is disabled")
)

const (
	// EvictionInterval is how often expired windows are dropped.
	EvictionInterval = 5 * time.Minute
	// PeriodicInterval is how often periodic insights are generated.
	PeriodicInterval = time.Minute
	// ActiveWindow is how recently a window must have been updated to
	// take part in periodic insight generation.
	ActiveWindow = 5 * time.Minute
)

// Clock is the time source and scheduler the stream runs on.
type Clock interface {
	clock.Clock
	clock.Scheduler
}

// Stream wires intake, window management and broadcasting together.
type Stream struct {
	cfg         Config
	buf         *eventBuffer
	running     bool
	flushCancel clock.CancelFunc
	sweeps      []clock.CancelFunc
	mu          sync.Mutex

	procMu   sync.Mutex // serializes batch processing
	inflight sync.WaitGroup

	manager     *window.Manager
	broadcaster *broadcast.Broadcaster
	metrics     *recorder
	clock       Clock
	ids         ids.Generator
	logger      *zap.Logger

	apply func(batch []activity.Event) (window.Result, error)
}

// New creates a stopped stream. base supplies the window tunables that the
// stream config does not cover; pass window.DefaultOptions() when in doubt.
func New(cfg Config, base window.Options, clk Clock, gen ids.Generator, logger *zap.Logger) *Stream {
	s := &Stream{
		cfg:         cfg,
		buf:         newEventBuffer(cfg.BufferSize),
		broadcaster: broadcast.NewBroadcaster(logger.Named("broadcast")),
		metrics:     newRecorder(),
		clock:       clk,
		ids:         gen,
		logger:      logger,
	}
	s.manager = window.NewManager(window.NewStore(), clk, gen, windowOptions(base, cfg), logger.Named("window"))
	s.apply = s.processBatch
	return s
}

func windowOptions(base window.Options, cfg Config) window.Options {
	base.MaxEventsPerContext = cfg.MaxEventsPerContext
	base.MaxContextAge = cfg.MaxContextAge
	base.RelevanceThreshold = cfg.RelevanceThreshold
	base.EnableInsights = cfg.EnableContextualization
	// A realtime batch stays buffered until the next flush, so a window must
	// remember at least two buffers worth of ids to drop the replay.
	if base.MaxSeenIDs <= 0 {
		base.MaxSeenIDs = window.DefaultOptions().MaxSeenIDs
	}
	base.MaxSeenIDs = max(base.MaxSeenIDs, 2*cfg.BufferSize)
	return base
}

// Start schedules the flush, eviction and periodic insight tasks. Calling it
// on a running stream does nothing.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	interval := s.cfg.FlushInterval
	s.flushCancel = s.clock.Every(interval, s.flushTick)
	s.sweeps = []clock.CancelFunc{
		s.clock.Every(EvictionInterval, s.evictTick),
		s.clock.Every(PeriodicInterval, s.periodicTick),
	}
	s.mu.Unlock()

	s.logger.Info("context stream started", zap.Duration("flush_interval", interval))
	s.publish(broadcast.NewSystemMessage("started", "", s.clock.Now(), s.ids))
}

// Stop cancels the scheduled tasks, waits for in-flight work and flushes what
// is left in the buffer. Submissions are rejected until Start is called
// again. Calling it on a stopped stream does nothing.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancels := append(s.sweeps, s.flushCancel)
	s.sweeps, s.flushCancel = nil, nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.inflight.Wait()

	err := s.Flush()
	if err != nil {
		s.logger.Error("final flush failed", zap.Error(err))
	}
	s.logger.Info("context stream stopped")
	s.publish(broadcast.NewSystemMessage("stopped", "", s.clock.Now(), s.ids))
	return err
}

// Running reports whether the stream accepts submissions.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Submit buffers events for the next flush. Events without an id get one and
// events without a timestamp are stamped with the current time. With
// realtime enabled the submission is also processed right away; the window
// manager ignores the buffered copies when the flush sees them again.
func (s *Stream) Submit(events []activity.Event) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrStopped
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if len(events) == 0 {
		s.mu.Unlock()
		return nil
	}

	now := s.clock.Now()
	batch := make([]activity.Event, len(events))
	for i, e := range events {
		if e.ID == "" {
			e.ID = s.ids.NewID("evt")
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		batch[i] = e
	}
	dropped := s.buf.push(batch)
	realtime := s.cfg.EnableRealtime
	if realtime {
		s.inflight.Add(1)
	}
	s.mu.Unlock()

	s.metrics.dropped(dropped)
	if dropped > 0 {
		s.logger.Warn("event buffer overflow, dropped oldest events", zap.Int("dropped", dropped))
	}

	if realtime {
		go func() {
			defer s.inflight.Done()
			if err := s.run(batch); err != nil {
				s.metrics.failed(1)
				s.logger.Error("realtime processing failed", zap.Error(err))
			}
		}()
	}
	return nil
}

// Flush drains the buffer and processes it as one batch. On failure the
// batch goes back to the front of the buffer, where the overflow policy may
// drop it.
func (s *Stream) Flush() error {
	s.mu.Lock()
	batch := s.buf.drain()
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	err := s.run(batch)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	dropped := s.buf.requeue(batch)
	s.mu.Unlock()
	s.metrics.failed(1)
	s.metrics.dropped(dropped)
	s.logger.Error("flush failed, batch requeued",
		zap.Int("events", len(batch)),
		zap.Int("dropped", dropped),
		zap.Error(err))
	s.publish(broadcast.NewAlert("flush_failed", err, s.clock.Now(), s.ids))
	return err
}

// run processes one batch, turning panics into errors.
func (s *Stream) run(batch []activity.Event) error {
	updated, err := s.process(batch)
	if err != nil {
		return err
	}
	if !s.GetConfig().EnableRealtime {
		return nil
	}
	// Published outside procMu so subscribers may call back into the stream.
	now := s.clock.Now()
	for _, w := range updated {
		s.publish(broadcast.NewContextUpdate(w, now, s.ids))
	}
	return nil
}

// process applies a batch under procMu and records the batch metrics.
func (s *Stream) process(batch []activity.Event) (updated []*window.Window, err error) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			updated = nil
			err = fmt.Errorf("process batch: panic: %v", r)
		}
	}()

	started := time.Now()
	res, err := s.apply(batch)
	if err != nil {
		return nil, fmt.Errorf("process batch: %w", err)
	}
	s.metrics.batch(res.Applied, res.NewInsights, res.NewPatterns, len(res.Failed), time.Since(started), s.clock.Now())
	return res.Updated, nil
}

func (s *Stream) processBatch(batch []activity.Event) (window.Result, error) {
	return s.manager.Process(batch), nil
}

func (s *Stream) publish(msg broadcast.Message) {
	s.broadcaster.Publish(msg)
	s.metrics.sent(1, 0)
}

func (s *Stream) flushTick() {
	_ = s.Flush()
}

func (s *Stream) evictTick() {
	s.manager.Evict()
}

func (s *Stream) periodicTick() {
	s.procMu.Lock()
	results := s.manager.PeriodicInsights()
	s.procMu.Unlock()

	now := s.clock.Now()
	for _, r := range results {
		for _, in := range r.Insights {
			s.publish(broadcast.NewInsightMessage(r.SessionID, r.Context, in, now, s.ids))
		}
		s.metrics.sent(0, len(r.Insights))
	}
}

// UpdateConfig applies a partial configuration change. A new flush interval
// takes effect immediately on a running stream; a smaller buffer drops the
// oldest buffered events.
func (s *Stream) UpdateConfig(patch ConfigPatch) (Config, error) {
	s.mu.Lock()
	next := patch.Apply(s.cfg)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return s.GetConfig(), err
	}
	prev := s.cfg
	s.cfg = next
	dropped := s.buf.resize(next.BufferSize)

	var stale clock.CancelFunc
	if s.running && next.FlushInterval != prev.FlushInterval {
		stale = s.flushCancel
		s.flushCancel = s.clock.Every(next.FlushInterval, s.flushTick)
	}
	s.mu.Unlock()

	if stale != nil {
		stale()
	}
	s.metrics.dropped(dropped)
	s.manager.SetOptions(windowOptions(s.manager.Options(), next))
	s.logger.Info("stream config updated",
		zap.Bool("enabled", next.Enabled),
		zap.Int("buffer_size", next.BufferSize),
		zap.Duration("flush_interval", next.FlushInterval),
		zap.Bool("realtime", next.EnableRealtime))
	return next, nil
}

// GetConfig returns the current configuration.
func (s *Stream) GetConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Subscribe registers fn for every published message. Messages are published
// with no stream lock held, so fn may call Flush or any getter. Stop waits for
// in-flight processing and scheduled ticks, so fn must not call it directly.
func (s *Stream) Subscribe(fn broadcast.Subscriber) func() {
	return s.broadcaster.Subscribe(fn)
}

// History returns up to limit recently published messages, oldest first.
func (s *Stream) History(limit int) []broadcast.Message {
	return s.broadcaster.History(limit)
}

// GetContext returns a snapshot of the session's window.
func (s *Stream) GetContext(sessionID string) (*window.Window, bool) {
	return s.manager.Get(sessionID)
}

// GetAllContexts returns snapshots of every live window.
func (s *Stream) GetAllContexts() []*window.Window {
	return s.manager.All()
}

// GetRecentInsights returns insights newest first; see window.Manager.
func (s *Stream) GetRecentInsights(sessionID string, limit int) []insight.Insight {
	return s.manager.RecentInsights(sessionID, limit)
}

// GetActiveSessions returns sessions updated within ActiveWindow.
func (s *Stream) GetActiveSessions() []string {
	return s.manager.ActiveSessions(ActiveWindow)
}

// GetMetrics returns a snapshot of the counters. It has no side effects.
func (s *Stream) GetMetrics() Metrics {
	m := s.metrics.snapshot()
	s.mu.Lock()
	m.BufferSize = s.buf.len()
	m.Running = s.running
	s.mu.Unlock()
	m.ActiveContexts = s.manager.Len()
	m.Subscribers = s.broadcaster.SubscriberCount()
	return m
}
