package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/clock"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/metrics"
)

// Kind selects the toast style.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Notification is one transient message.
type Notification struct {
	ID       string        `json:"id"`
	Message  string        `json:"message"`
	Kind     Kind          `json:"kind"`
	Duration time.Duration `json:"duration"`
	ShownAt  time.Time     `json:"shownAt"`
}

// Sink observes notifications being shown and dismissed. Sinks are called
// without the notifier lock held and must not block.
type Sink interface {
	Show(n Notification)
	Dismiss(n Notification)
}

// Notifier keeps at most one visible notification. A newer notification
// replaces the current one immediately; there is no queue.
type Notifier struct {
	mu              sync.Mutex
	clock           clock.Clock
	defaultDuration time.Duration
	current         *Notification
	timer           clock.Timer
	sinks           []Sink
}

// New creates a Notifier. A nil clock means the wall clock.
func New(defaultDuration time.Duration, clk clock.Clock, sinks ...Sink) *Notifier {
	if defaultDuration <= 0 {
		defaultDuration = common.DefaultNotificationDuration
	}
	return &Notifier{
		clock:           clock.OrReal(clk),
		defaultDuration: defaultDuration,
		sinks:           sinks,
	}
}

// AddSink registers another observer.
func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Notify shows message for duration (the default when zero) and schedules
// its dismissal.
func (n *Notifier) Notify(message string, kind Kind, duration time.Duration) Notification {
	if duration <= 0 {
		duration = n.defaultDuration
	}
	note := Notification{
		ID:       uuid.NewString(),
		Message:  message,
		Kind:     kind,
		Duration: duration,
		ShownAt:  n.clock.Now(),
	}

	n.mu.Lock()
	replaced := n.current
	oldTimer := n.timer
	n.current = &note
	n.timer = nil
	sinks := append([]Sink(nil), n.sinks...)
	n.mu.Unlock()

	// Timers are touched outside n.mu: fake clocks run callbacks while
	// holding their own lock.
	if oldTimer != nil {
		oldTimer.Stop()
	}
	timer := n.clock.AfterFunc(duration, func() { n.dismiss(note.ID) })

	n.mu.Lock()
	stale := n.current == nil || n.current.ID != note.ID
	if !stale {
		n.timer = timer
	}
	n.mu.Unlock()
	if stale {
		timer.Stop()
	}

	metrics.NotificationsTotal.WithLabelValues(string(kind)).Inc()
	klog.V(4).InfoS("Showing notification", "id", note.ID, "kind", kind, "duration", duration)

	for _, s := range sinks {
		if replaced != nil {
			s.Dismiss(*replaced)
		}
		s.Show(note)
	}
	return note
}

// Success, Error, Warning and Info notify with the default duration.
func (n *Notifier) Success(message string) Notification { return n.Notify(message, KindSuccess, 0) }
func (n *Notifier) Error(message string) Notification   { return n.Notify(message, KindError, 0) }
func (n *Notifier) Warning(message string) Notification { return n.Notify(message, KindWarning, 0) }
func (n *Notifier) Info(message string) Notification    { return n.Notify(message, KindInfo, 0) }

// Current returns the visible notification, if any.
func (n *Notifier) Current() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Notification{}, false
	}
	return *n.current, true
}

// Dismiss hides the current notification early.
func (n *Notifier) Dismiss() {
	n.mu.Lock()
	var id string
	if n.current != nil {
		id = n.current.ID
	}
	timer := n.timer
	n.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if id != "" {
		n.dismiss(id)
	}
}

// dismiss removes the notification only if it is still the current one, so
// a late timer never hides a newer notification.
func (n *Notifier) dismiss(id string) {
	n.mu.Lock()
	if n.current == nil || n.current.ID != id {
		n.mu.Unlock()
		return
	}
	note := *n.current
	n.current = nil
	n.timer = nil
	sinks := append([]Sink(nil), n.sinks...)
	n.mu.Unlock()

	klog.V(4).InfoS("Dismissed notification", "id", id)
	for _, s := range sinks {
		s.Dismiss(note)
	}
}
