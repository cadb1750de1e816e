package testutil

import (
	"context"
	"sync"
	"time"
)

// MockClock implements Clock interface for testing with controllable time.
// Bucket, gate and distributed tests share it to avoid real delays.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock starting at the given time.
// If zero time is provided, uses current time.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock clock to a specific time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// FakeSleeper advances a MockClock instead of sleeping, so wait loops run
// in simulated time. It records every requested duration.
type FakeSleeper struct {
	Clock *MockClock

	// OnSleep, if set, runs after the clock has been advanced.
	OnSleep func(d time.Duration)

	mu    sync.Mutex
	slept []time.Duration
}

// NewFakeSleeper creates a FakeSleeper driving clock.
func NewFakeSleeper(clock *MockClock) *FakeSleeper {
	return &FakeSleeper{Clock: clock}
}

// Sleep returns ctx.Err() if the context is done, otherwise advances the
// clock by d and returns nil.
func (s *FakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()

	if d > 0 {
		s.Clock.Advance(d)
	}
	if s.OnSleep != nil {
		s.OnSleep(d)
	}
	return ctx.Err()
}

// Calls returns a copy of the recorded sleep durations.
func (s *FakeSleeper) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.slept))
	copy(out, s.slept)
	return out
}

// Total returns the sum of all recorded sleeps.
func (s *FakeSleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.slept {
		total += d
	}
	return total
}
