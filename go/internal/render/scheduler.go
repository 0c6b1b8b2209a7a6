package render

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultFrameInterval is one display frame at 60Hz
const DefaultFrameInterval = 16 * time.Millisecond

// Scheduler coalesces render requests. The first request in a frame arms a
// timer; later requests in the same frame only replace the arguments, so the
// frame renders once with whatever was asked for last.
type Scheduler[T any] struct {
	clock    clockwork.Clock
	interval time.Duration
	render   func(T)

	mu      sync.Mutex
	pending bool
	args    T
	timer   clockwork.Timer
	stopped bool

	// serializes render calls when a frame runs long
	running sync.Mutex
}

// NewScheduler wraps render with per-frame coalescing
func NewScheduler[T any](clock clockwork.Clock, interval time.Duration, render func(T)) *Scheduler[T] {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Scheduler[T]{clock: clock, interval: interval, render: render}
}

// Request records args and makes sure a render is pending for the next frame
func (s *Scheduler[T]) Request(args T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.args = args
	if s.pending {
		return
	}
	s.pending = true
	s.timer = s.clock.AfterFunc(s.interval, s.fire)
}

// Pending reports whether a frame is armed
func (s *Scheduler[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Scheduler[T]) fire() {
	s.mu.Lock()
	if !s.pending || s.stopped {
		s.mu.Unlock()
		return
	}
	args := s.args
	var zero T
	s.args = zero
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	s.running.Lock()
	defer s.running.Unlock()
	s.render(args)
}

// Stop cancels the pending frame and ignores later requests
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
