package clock

import (
	"time"

	utilclock "k8s.io/utils/clock"
)

// Clock is the time source used by pollers, progress ticks and toast timers.
// Both utilclock.RealClock and the fake clock in k8s.io/utils/clock/testing
// satisfy it.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) utilclock.Ticker
	AfterFunc(d time.Duration, f func()) utilclock.Timer
}

// Ticker and Timer are re-exported so callers need not import k8s.io/utils.
type (
	Ticker = utilclock.Ticker
	Timer  = utilclock.Timer
)

// RealClock implements Clock with actual time
type RealClock struct {
	utilclock.RealClock
}

// Real returns the wall clock.
func Real() Clock {
	return RealClock{}
}

// OrReal returns c, or the wall clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
