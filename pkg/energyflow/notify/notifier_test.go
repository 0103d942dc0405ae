package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func newTestNotifier(t *testing.T) (*Notifier, *testclock.FakeClock, *RecordingSink) {
	t.Helper()
	fc := testclock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	sink := &RecordingSink{}
	return New(3*time.Second, fc, sink), fc, sink
}

func TestNotifyAutoDismiss(t *testing.T) {
	n, fc, sink := newTestNotifier(t)

	note := n.Notify("Forecast ready", KindSuccess, 2*time.Second)
	assert.NotEmpty(t, note.ID)

	current, ok := n.Current()
	require.True(t, ok)
	assert.Equal(t, "Forecast ready", current.Message)

	fc.Step(1999 * time.Millisecond)
	_, ok = n.Current()
	assert.True(t, ok)

	fc.Step(time.Millisecond)
	_, ok = n.Current()
	assert.False(t, ok)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.True(t, events[0].Shown)
	assert.False(t, events[1].Shown)
	assert.Equal(t, note.ID, events[1].Notification.ID)
}

func TestNotifyDefaultDuration(t *testing.T) {
	n, fc, _ := newTestNotifier(t)

	note := n.Warning("Please wait")
	assert.Equal(t, 3*time.Second, note.Duration)

	fc.Step(2 * time.Second)
	_, ok := n.Current()
	assert.True(t, ok)

	fc.Step(time.Second)
	_, ok = n.Current()
	assert.False(t, ok)
}

func TestNewestReplacesOlder(t *testing.T) {
	n, fc, sink := newTestNotifier(t)

	first := n.Info("Checking API")
	fc.Step(2 * time.Second)
	second := n.Error("API offline")

	current, ok := n.Current()
	require.True(t, ok)
	assert.Equal(t, second.ID, current.ID)

	// The first toast's deadline passes without hiding the second one.
	fc.Step(1500 * time.Millisecond)
	current, ok = n.Current()
	require.True(t, ok)
	assert.Equal(t, second.ID, current.ID)

	fc.Step(1500 * time.Millisecond)
	_, ok = n.Current()
	assert.False(t, ok)

	events := sink.Events()
	require.Len(t, events, 4)
	assert.Equal(t, first.ID, events[1].Notification.ID, "first toast is dismissed when replaced")
	assert.False(t, events[1].Shown)
	assert.Equal(t, second.ID, events[2].Notification.ID)
	assert.True(t, events[2].Shown)
}

func TestDismissEarly(t *testing.T) {
	n, fc, sink := newTestNotifier(t)

	n.Success("Saved")
	n.Dismiss()
	_, ok := n.Current()
	assert.False(t, ok)

	// Nothing left to fire.
	fc.Step(10 * time.Second)
	assert.Len(t, sink.Events(), 2)

	// Dismissing with nothing shown is a no-op.
	n.Dismiss()
	assert.Len(t, sink.Events(), 2)
}

func TestConcurrentNotify(t *testing.T) {
	n := New(time.Hour, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Info("ping")
		}()
	}
	wg.Wait()

	_, ok := n.Current()
	assert.True(t, ok, "exactly one notification stays visible")
	n.Dismiss()
}
