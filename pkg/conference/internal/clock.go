// Package internal provides internal utilities for the conference package.
package internal

import "time"

// Clock is an interface for obtaining time. The abstraction exists so that
// liveness tracking and report timestamps can be driven deterministically
// in tests.
type Clock interface {
	// Now returns the current time. Implementations must return
	// monotonically increasing time values.
	Now() time.Time
}

// MonotonicClock is a Clock backed by the system clock. time.Now() in Go
// carries a monotonic reading, so elapsed-time measurements are unaffected
// by wall-clock adjustments.
type MonotonicClock struct{}

// Now returns the current system time.
func (MonotonicClock) Now() time.Time {
	return time.Now()
}

// MockClock is a Clock for tests that is advanced manually. It is not safe
// for concurrent use.
type MockClock struct {
	current time.Time
}

// NewMockClock creates a MockClock initialized to t. A zero t is replaced
// with a fixed, non-zero default so that zero-time checks in the code under
// test behave as in production.
func NewMockClock(t time.Time) *MockClock {
	if t.IsZero() {
		t = time.Unix(1000000000, 0)
	}
	return &MockClock{current: t}
}

// Now returns the mock clock's current time.
func (m *MockClock) Now() time.Time {
	return m.current
}

// Advance moves the clock forward by d. Panics if d is negative to keep the
// clock monotone.
func (m *MockClock) Advance(d time.Duration) {
	if d < 0 {
		panic("MockClock.Advance: duration must be non-negative")
	}
	m.current = m.current.Add(d)
}
