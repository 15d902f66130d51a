package transcribe

import (
	"sync"
	"time"
)

// stopwatch measures recording time with pause support, so subtitle
// timestamps skip over paused stretches exactly like the recording does.
type stopwatch struct {
	mu          sync.Mutex
	now         func() time.Time
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	running     bool
	paused      bool
}

func newStopwatch() *stopwatch {
	return &stopwatch{now: time.Now}
}

func (s *stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = s.now()
	s.pausedTotal = 0
	s.running = true
	s.paused = false
}

func (s *stopwatch) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.paused {
		return
	}
	s.pausedAt = s.now()
	s.paused = true
}

func (s *stopwatch) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || !s.paused {
		return
	}
	s.pausedTotal += s.now().Sub(s.pausedAt)
	s.paused = false
}

// Elapsed is the running time in seconds, excluding paused stretches.
func (s *stopwatch) Elapsed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	end := s.now()
	if s.paused {
		end = s.pausedAt
	}
	return (end.Sub(s.startedAt) - s.pausedTotal).Seconds()
}
