package engine

import (
	"sync"

	"github.com/roach88/msgweave/internal/model"
)

// Notifier receives downstream events after the step that produced them
// committed. Delivery is fire-and-forget: Notify must not block for long
// and cannot fail the step.
type Notifier interface {
	Notify(n model.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n model.Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n model.Notification) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(model.Notification) {}

// Recorder keeps every notification in memory. Used by tests and the
// scenario harness.
type Recorder struct {
	mu     sync.Mutex
	events []model.Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify implements Notifier.
func (r *Recorder) Notify(n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
}

// Events returns a copy of the recorded notifications in publish order.
func (r *Recorder) Events() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Notification, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kind of every recorded notification, in order.
func (r *Recorder) Kinds() []model.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.NotificationKind, len(r.events))
	for i, n := range r.events {
		out[i] = n.Kind
	}
	return out
}

// Reset discards the recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
