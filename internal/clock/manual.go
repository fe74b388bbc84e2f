package clock

import (
	"sort"
	"sync"
	"time"
)

type manualTask struct {
	id       int
	interval time.Duration
	next     time.Time
	fn       func()
}

// Manual is a logical clock for tests. Time only moves when Advance or Set
// is called, and periodic tasks fire in due order while it moves.
type Manual struct {
	now    time.Time
	tasks  map[int]*manualTask
	nextID int
	mu     sync.Mutex
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:   start,
		tasks: make(map[int]*manualTask),
	}
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Every implements Scheduler. The first run is one interval after the
// current logical time.
func (m *Manual) Every(interval time.Duration, fn func()) CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.tasks[id] = &manualTask{
		id:       id,
		interval: interval,
		next:     m.now.Add(interval),
		fn:       fn,
	}
	return func() {
		m.mu.Lock()
		delete(m.tasks, id)
		m.mu.Unlock()
	}
}

// Pending returns the number of registered periodic tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves the clock forward by d, firing every task that falls due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	m.Set(target)
}

// Set moves the clock to t. Tasks run outside the lock so they may call back
// into the clock.
func (m *Manual) Set(t time.Time) {
	for {
		m.mu.Lock()
		due := m.nextDue(t)
		if due == nil {
			if t.After(m.now) {
				m.now = t
			}
			m.mu.Unlock()
			return
		}
		m.now = due.next
		due.next = due.next.Add(due.interval)
		fn := due.fn
		m.mu.Unlock()

		fn()
	}
}

// nextDue returns the earliest task due at or before t. Ties go to the task
// registered first.
func (m *Manual) nextDue(t time.Time) *manualTask {
	var due []*manualTask
	for _, task := range m.tasks {
		if !task.next.After(t) {
			due = append(due, task)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next.Equal(due[j].next) {
			return due[i].id < due[j].id
		}
		return due[i].next.Before(due[j].next)
	})
	return due[0]
}
