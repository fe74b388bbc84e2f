package window

import (
	"sort"
	"sync"
	"time"
)

// Store owns the session -> window map. All access goes through its single
// mutex; Update holds it for the whole read-modify-write of one window.
type Store struct {
	windows map[string]*Window // sessionID -> window
	mu      sync.RWMutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{windows: make(map[string]*Window)}
}

// Get returns a copy of the window for a session.
func (s *Store) Get(sessionID string) (*Window, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[sessionID]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// All returns copies of every window ordered by session id.
func (s *Store) All() []*Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Window, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len returns the number of live windows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

// Update runs fn on the session's window under the store lock. fn receives
// nil when the session has no window and returns the window to keep.
func (s *Store) Update(sessionID string, fn func(w *Window) *Window) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := fn(s.windows[sessionID])
	if w == nil {
		delete(s.windows, sessionID)
		return nil
	}
	s.windows[sessionID] = w
	return w.Clone()
}

// Each runs fn on every window under the store lock, in session order.
func (s *Store) Each(fn func(w *Window)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.windows))
	for k := range s.windows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(s.windows[k])
	}
}

// DeleteIdle removes windows last updated before cutoff and returns their
// session ids.
func (s *Store) DeleteIdle(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, w := range s.windows {
		if w.LastUpdated.Before(cutoff) {
			delete(s.windows, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}
