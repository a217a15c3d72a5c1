package harness

import (
	"github.com/roach88/msgweave/internal/engine"
	"github.com/roach88/msgweave/internal/model"
	"github.com/roach88/msgweave/internal/store"
)

// TraceEvent records one executed step and what it published.
type TraceEvent struct {
	Step          int                  `json:"step"`
	Op            string               `json:"op"`
	Error         string               `json:"error,omitempty"`
	Notifications []model.Notification `json:"notifications,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step and assertion succeeded.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	Errors []string `json:"errors,omitempty"`

	// Timeline is the discussion's final display order.
	Timeline []engine.TimelineEntry `json:"-"`

	// Stats are the final arena row counts.
	Stats store.Stats `json:"stats"`

	// DiscussionID identifies the scenario's discussion in the store.
	DiscussionID int64 `json:"discussion_id"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Notifications flattens the notifications of every step.
func (r *Result) Notifications() []model.Notification {
	var out []model.Notification
	for _, ev := range r.Trace {
		out = append(out, ev.Notifications...)
	}
	return out
}
