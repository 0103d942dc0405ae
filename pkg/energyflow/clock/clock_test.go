package clock

import (
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(RealClock); !ok {
		t.Error("OrReal(nil) should return the real clock")
	}

	fake := testingclock.NewFakeClock(time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC))
	if OrReal(fake) != Clock(fake) {
		t.Error("OrReal should keep a provided clock")
	}
}

func TestFakeClockSatisfiesClock(t *testing.T) {
	start := time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC)
	var c Clock = testingclock.NewFakeClock(start)

	fired := make(chan struct{}, 1)
	c.AfterFunc(time.Second, func() { fired <- struct{}{} })
	c.(*testingclock.FakeClock).Step(time.Second)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("AfterFunc callback did not run after stepping the clock")
	}

	if got := c.Since(start); got != time.Second {
		t.Errorf("Since() = %v, want 1s", got)
	}
}
