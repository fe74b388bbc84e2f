package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// CancelFunc stops a periodic task. Calling it more than once is a no-op.
type CancelFunc func()

// Scheduler runs fn every interval until the returned CancelFunc is called.
type Scheduler interface {
	Every(interval time.Duration, fn func()) CancelFunc
}

// System is the wall-clock implementation of Clock and Scheduler. Each
// periodic task gets its own ticker goroutine.
type System struct {
	logger *zap.Logger
}

// NewSystem creates a wall-clock scheduler.
func NewSystem(logger *zap.Logger) *System {
	return &System{logger: logger}
}

// Now implements Clock.
func (s *System) Now() time.Time { return time.Now() }

// Every implements Scheduler.
func (s *System) Every(interval time.Duration, fn func()) CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.loop(ctx, interval, fn)
	}()
	s.logger.Debug("periodic task started", zap.Duration("interval", interval))

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			s.logger.Debug("periodic task stopped", zap.Duration("interval", interval))
		})
	}
}

func (s *System) loop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(fn)
		}
	}
}

// run keeps a panicking task from killing its ticker goroutine.
func (s *System) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("periodic task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
