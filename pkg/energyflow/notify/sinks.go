package notify

import (
	"sync"

	"k8s.io/klog/v2"
)

// LogSink writes notifications to the structured log.
type LogSink struct{}

func (LogSink) Show(n Notification) {
	if n.Kind == KindError {
		klog.InfoS("Notification", "kind", n.Kind, "message", n.Message)
		return
	}
	klog.V(2).InfoS("Notification", "kind", n.Kind, "message", n.Message)
}

func (LogSink) Dismiss(Notification) {}

// Event is one observed Show or Dismiss call.
type Event struct {
	Shown        bool
	Notification Notification
}

// RecordingSink keeps every event in order.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingSink) Show(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Shown: true, Notification: n})
}

func (r *RecordingSink) Dismiss(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Shown: false, Notification: n})
}

// Events returns a copy of the recorded events.
func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
