package progress

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultTickInterval    = 250 * time.Millisecond
	DefaultInitialProgress = 0.02
)

// Smoother eases a displayed value toward the highest target reported so
// far. The displayed value never decreases and never passes the target.
type Smoother struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	onTick   func(displayed float64)

	actual    float64
	displayed float64

	timer   Timer
	running bool
	epoch   uint64
}

func NewSmoother(clock Clock, interval time.Duration, onTick func(float64)) *Smoother {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if onTick == nil {
		onTick = func(float64) {}
	}
	return &Smoother{
		clock:    clock,
		interval: interval,
		onTick:   onTick,
	}
}

// Step returns how far the displayed value moves for a remaining gap.
func Step(gap float64) float64 {
	var step float64
	switch {
	case gap <= 0:
		return 0
	case gap > 0.30:
		step = 0.08
	case gap > 0.15:
		step = 0.04
	case gap > 0.05:
		step = 0.02
	default:
		step = math.Max(gap/2, 0.005)
	}
	return math.Min(step, gap)
}

// SetTarget raises the known progress. Lower targets are ignored.
func (s *Smoother) SetTarget(target float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target = clamp01(target)
	if target > s.actual {
		s.actual = target
	}
}

// Tick advances the displayed value by one step and returns it.
func (s *Smoother) Tick() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick()
}

func (s *Smoother) tick() float64 {
	s.displayed = math.Min(s.displayed+Step(s.actual-s.displayed), s.actual)
	return s.displayed
}

// Finish snaps the displayed value to the known target.
func (s *Smoother) Finish() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actual > s.displayed {
		s.displayed = s.actual
	}
	return s.displayed
}

func (s *Smoother) Displayed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayed
}

func (s *Smoother) Actual() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actual
}

// Reset sets both values to initial. Only called between runs.
func (s *Smoother) Reset(initial float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	initial = clamp01(initial)
	s.actual = initial
	s.displayed = initial
}

// Start begins ticking every interval until Stop.
func (s *Smoother) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.epoch++
	s.schedule(s.epoch)
}

func (s *Smoother) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Smoother) schedule(epoch uint64) {
	s.timer = s.clock.AfterFunc(s.interval, func() {
		s.mu.Lock()
		if !s.running || epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		v := s.tick()
		s.schedule(epoch)
		s.mu.Unlock()
		s.onTick(v)
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
