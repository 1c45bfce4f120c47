package rtcpterm

import (
	"sync"
	"time"
)

// ReportSchedulerConfig configures report cycle scheduling.
type ReportSchedulerConfig struct {
	// Interval is the regular reporting interval (default: 1 second).
	Interval time.Duration
}

// DefaultReportSchedulerConfig returns the default scheduler configuration.
func DefaultReportSchedulerConfig() ReportSchedulerConfig {
	return ReportSchedulerConfig{
		Interval: time.Second,
	}
}

// ReportScheduler decides when a report cycle is due. Cycles run at the
// regular interval, and a membership change can force the next check to run
// a cycle immediately so new endpoints receive reports without waiting a
// full interval. Safe for concurrent use.
type ReportScheduler struct {
	config ReportSchedulerConfig

	mu      sync.Mutex
	lastRun time.Time
	forced  bool
}

// NewReportScheduler creates a new report scheduler.
func NewReportScheduler(config ReportSchedulerConfig) *ReportScheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultReportSchedulerConfig().Interval
	}
	return &ReportScheduler{config: config}
}

// ShouldRun reports whether a cycle is due at now: the first call is always
// due, then every elapsed interval, or immediately after ForceNext.
func (s *ReportScheduler) ShouldRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forced {
		return true
	}
	return s.lastRun.IsZero() || now.Sub(s.lastRun) >= s.config.Interval
}

// MarkRun records that a cycle ran at now and clears any pending force.
func (s *ReportScheduler) MarkRun(now time.Time) {
	s.mu.Lock()
	s.lastRun = now
	s.forced = false
	s.mu.Unlock()
}

// ForceNext makes the next ShouldRun return true regardless of the interval.
// Called on membership changes.
func (s *ReportScheduler) ForceNext() {
	s.mu.Lock()
	s.forced = true
	s.mu.Unlock()
}

// MaybeRun combines ShouldRun and MarkRun: it returns true exactly when a
// cycle is due, recording the run. This is the primary API for the driving
// loop.
func (s *ReportScheduler) MaybeRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.forced && !s.lastRun.IsZero() && now.Sub(s.lastRun) < s.config.Interval {
		return false
	}
	s.lastRun = now
	s.forced = false
	return true
}

// LastRun returns when the last cycle ran, zero if none has.
func (s *ReportScheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
