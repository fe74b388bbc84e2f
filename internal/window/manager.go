// Package window maintains one live context window per session: it groups
// incoming batches, runs the builder, insight engine and pattern detector
// over each window, scores relevance and evicts idle windows.
package window

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/nidhogg/nuka-stream/internal/builder"
	"github.com/nidhogg/nuka-stream/internal/clock"
	"github.com/nidhogg/nuka-stream/internal/ids"
	"github.com/nidhogg/nuka-stream/internal/insight"
	"github.com/nidhogg/nuka-stream/internal/pattern"
	"go.uber.org/zap"
)

// Options configures the manager. Zero values are replaced by defaults in
// NewManager and SetOptions.
type Options struct {
	MaxEventsPerContext int
	MaxContextAge       time.Duration
	RelevanceThreshold  float64
	EnableInsights      bool
	MaxInsights         int
	MaxPatterns         int
	MaxSeenIDs          int // event ids remembered per window for de-duplication

	Decay    DecayConfig
	Summary  builder.Options
	Insights insight.Thresholds
	Patterns pattern.Thresholds
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxEventsPerContext: 100,
		MaxContextAge:       30 * time.Minute,
		RelevanceThreshold:  0.1,
		EnableInsights:      true,
		MaxInsights:         20,
		MaxPatterns:         50,
		MaxSeenIDs:          1000,
		Decay:               DefaultDecayConfig(),
		Summary:             builder.DefaultOptions(),
		Insights:            insight.DefaultThresholds(),
		Patterns:            pattern.DefaultThresholds(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxEventsPerContext <= 0 {
		o.MaxEventsPerContext = d.MaxEventsPerContext
	}
	if o.MaxContextAge <= 0 {
		o.MaxContextAge = d.MaxContextAge
	}
	if o.MaxInsights <= 0 {
		o.MaxInsights = d.MaxInsights
	}
	if o.MaxPatterns <= 0 {
		o.MaxPatterns = d.MaxPatterns
	}
	if o.MaxSeenIDs < o.MaxEventsPerContext {
		o.MaxSeenIDs = max(d.MaxSeenIDs, o.MaxEventsPerContext)
	}
	if o.Decay.ActivityDivisor == 0 {
		o.Decay = d.Decay
	}
	if o.Summary.ProductiveTypes == nil {
		o.Summary = d.Summary
	}
	if o.Insights.WorkTypes == nil {
		o.Insights = d.Insights
	}
	if o.Patterns.SequenceLength == 0 {
		o.Patterns = d.Patterns
	}
	return o
}

// Result reports what one Process call did.
type Result struct {
	Updated     []*Window
	Applied     int // events not already present in their window
	NewInsights int
	NewPatterns int
	Failed      map[string]error // sessionID -> error
}

// PeriodicResult holds the periodic insights added to one window.
type PeriodicResult struct {
	SessionID string
	Context   builder.AssistantContext
	Insights  []insight.Insight
}

// Manager orchestrates window creation, update and eviction.
type Manager struct {
	store  *Store
	clock  clock.Clock
	ids    ids.Generator
	opts   Options
	optsMu sync.RWMutex
	logger *zap.Logger
}

// NewManager creates a manager over the given store.
func NewManager(store *Store, clk clock.Clock, gen ids.Generator, opts Options, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		clock:  clk,
		ids:    gen,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// Options returns the current options.
func (m *Manager) Options() Options {
	m.optsMu.RLock()
	defer m.optsMu.RUnlock()
	return m.opts
}

// SetOptions replaces the options. Windows pick them up on their next update.
func (m *Manager) SetOptions(o Options) {
	m.optsMu.Lock()
	defer m.optsMu.Unlock()
	m.opts = o.withDefaults()
}

// Group partitions a batch by session id and returns the session ids in a
// stable order. Events without a session id share one synthetic session
// generated per call, so two calls never merge their anonymous events.
func (m *Manager) Group(events []activity.Event) (map[string][]activity.Event, []string) {
	groups := make(map[string][]activity.Event)
	var synthetic string
	for _, e := range events {
		sid := e.SessionID
		if sid == "" {
			if synthetic == "" {
				synthetic = m.ids.NewID("session")
				m.logger.Warn("events without session id assigned to synthetic session",
					zap.String("session", synthetic))
			}
			sid = synthetic
			e.SessionID = sid
		}
		groups[sid] = append(groups[sid], e)
	}
	order := make([]string, 0, len(groups))
	for sid := range groups {
		order = append(order, sid)
	}
	sort.Strings(order)
	return groups, order
}

// Process applies a batch to the windows. A failure in one session is
// recorded in the result and does not stop the others.
func (m *Manager) Process(events []activity.Event) Result {
	res := Result{Failed: make(map[string]error)}
	if len(events) == 0 {
		return res
	}
	opts := m.Options()
	groups, order := m.Group(events)

	for _, sid := range order {
		w, applied, ni, np, err := m.updateSession(sid, groups[sid], opts)
		if err != nil {
			res.Failed[sid] = err
			m.logger.Error("context update failed",
				zap.String("session", sid), zap.Error(err))
			continue
		}
		if w == nil {
			continue
		}
		res.Updated = append(res.Updated, w)
		res.Applied += applied
		res.NewInsights += ni
		res.NewPatterns += np
	}
	return res
}

func (m *Manager) updateSession(sessionID string, events []activity.Event, opts Options) (out *Window, applied, newInsights, newPatterns int, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("update session %s: panic: %v", sessionID, r)
		}
	}()

	now := m.clock.Now()
	changed := false
	out = m.store.Update(sessionID, func(cur *Window) *Window {
		var next *Window
		var prevEvents []activity.Event
		age := time.Duration(0)
		if cur == nil {
			next = &Window{
				ID:             m.ids.NewID("ctx"),
				SessionID:      sessionID,
				RelevanceScore: 1.0,
				Insights:       []insight.Insight{},
				Patterns:       []pattern.Pattern{},
			}
		} else {
			next = cur.Clone()
			prevEvents = cur.Events
			age = now.Sub(cur.LastUpdated)
		}

		fresh := dedupe(next.seen, prevEvents, events)
		if len(fresh) == 0 {
			return cur
		}
		changed = true
		applied = len(fresh)
		next.seen = remember(next.seen, fresh, opts.MaxSeenIDs)

		next.Events = activity.Sorted(append(append([]activity.Event(nil), prevEvents...), fresh...))
		if cur == nil {
			next.Context = builder.BuildAssistantContext(fresh, now)
		} else {
			next.Context = builder.UpdateAssistantContext(next.Context, fresh, now)
		}

		if opts.EnableInsights {
			generated := insight.Generate(fresh, prevEvents, now, insight.Options{Thresholds: opts.Insights, IDs: m.ids})
			next.Insights = append(next.Insights, generated...)
			newInsights = len(generated)
		}

		found := pattern.Detect(next.Events, next.Insights, now, pattern.Options{Thresholds: opts.Patterns, IDs: m.ids})
		next.Patterns, newPatterns = pattern.Merge(next.Patterns, found, opts.MaxPatterns)

		next.Events = truncate(next.Events, opts.MaxEventsPerContext)
		if len(next.Insights) > opts.MaxInsights {
			next.Insights = next.Insights[len(next.Insights)-opts.MaxInsights:]
		}
		next.ActivitySummary = builder.BuildActivitySummary(next.Events, now, opts.Summary)
		next.RelevanceScore = Relevance(age, opts.MaxContextAge,
			next.EventsSince(now.Add(-opts.Decay.RecentWindow)), len(next.Insights),
			opts.RelevanceThreshold, opts.Decay)
		next.LastUpdated = now
		return next
	})
	if !changed {
		return nil, 0, 0, 0, nil
	}

	m.logger.Debug("context window updated",
		zap.String("session", sessionID),
		zap.Int("events", len(out.Events)),
		zap.Int("new_insights", newInsights),
		zap.Int("new_patterns", newPatterns),
		zap.Float64("relevance", out.RelevanceScore))
	return out, applied, newInsights, newPatterns, nil
}

// dedupe drops events whose id was already applied to the window, is still
// held by it, or repeats within the batch.
func dedupe(seenIDs []string, existing, incoming []activity.Event) []activity.Event {
	seen := make(map[string]bool, len(seenIDs)+len(existing)+len(incoming))
	for _, id := range seenIDs {
		seen[id] = true
	}
	for _, e := range existing {
		if e.ID != "" {
			seen[e.ID] = true
		}
	}
	var out []activity.Event
	for _, e := range incoming {
		if e.ID != "" {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
		}
		out = append(out, e)
	}
	return out
}

// remember appends the ids of fresh events, keeping at most limit of the
// most recent ones.
func remember(seen []string, fresh []activity.Event, limit int) []string {
	for _, e := range fresh {
		if e.ID != "" {
			seen = append(seen, e.ID)
		}
	}
	if len(seen) > limit {
		seen = append([]string(nil), seen[len(seen)-limit:]...)
	}
	return seen
}

func truncate(events []activity.Event, n int) []activity.Event {
	if len(events) <= n {
		return events
	}
	return append([]activity.Event(nil), events[len(events)-n:]...)
}

// Evict removes windows idle for longer than MaxContextAge.
func (m *Manager) Evict() []string {
	opts := m.Options()
	removed := m.store.DeleteIdle(m.clock.Now().Add(-opts.MaxContextAge))
	if len(removed) > 0 {
		m.logger.Info("evicted idle context windows",
			zap.Int("count", len(removed)),
			zap.Strings("sessions", removed))
	}
	return removed
}

// PeriodicInsights runs the periodic generators over every window whose
// relevance is above the threshold and appends what they find.
func (m *Manager) PeriodicInsights() []PeriodicResult {
	opts := m.Options()
	if !opts.EnableInsights {
		return nil
	}
	now := m.clock.Now()
	iopts := insight.Options{Thresholds: opts.Insights, IDs: m.ids}

	var out []PeriodicResult
	m.store.Each(func(w *Window) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("periodic insight generation panicked",
					zap.String("session", w.SessionID), zap.Any("panic", r))
			}
		}()
		if w.RelevanceScore <= opts.RelevanceThreshold {
			return
		}
		generated := insight.GeneratePeriodic(w.Events, now, iopts)
		if len(generated) == 0 {
			return
		}
		w.Insights = append(w.Insights, generated...)
		if len(w.Insights) > opts.MaxInsights {
			w.Insights = append([]insight.Insight(nil), w.Insights[len(w.Insights)-opts.MaxInsights:]...)
		}
		out = append(out, PeriodicResult{
			SessionID: w.SessionID,
			Context:   w.Clone().Context,
			Insights:  generated,
		})
	})
	return out
}

// Get returns a snapshot of the session's window.
func (m *Manager) Get(sessionID string) (*Window, bool) {
	return m.store.Get(sessionID)
}

// All returns snapshots of every window.
func (m *Manager) All() []*Window {
	return m.store.All()
}

// Len returns the number of live windows.
func (m *Manager) Len() int {
	return m.store.Len()
}

// RecentInsights returns up to limit insights, newest first. An empty
// sessionID searches every window.
func (m *Manager) RecentInsights(sessionID string, limit int) []insight.Insight {
	if limit <= 0 {
		limit = 10
	}
	var windows []*Window
	if sessionID != "" {
		if w, ok := m.store.Get(sessionID); ok {
			windows = append(windows, w)
		}
	} else {
		windows = m.store.All()
	}

	var all []insight.Insight
	for _, w := range windows {
		all = append(all, w.Insights...)
	}
	// Reverse first so that, among equal timestamps, later appends win.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// ActiveSessions returns the sessions updated within the given duration.
func (m *Manager) ActiveSessions(within time.Duration) []string {
	cutoff := m.clock.Now().Add(-within)
	var out []string
	for _, w := range m.store.All() {
		if !w.LastUpdated.Before(cutoff) {
			out = append(out, w.SessionID)
		}
	}
	return out
}
