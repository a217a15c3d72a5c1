package engine

import (
	"sync"

	"github.com/roach88/msgweave/internal/model"
)

// EventType distinguishes between upstream payload kinds.
type EventType int

const (
	// EventTypeMessage carries a decrypted message payload.
	EventTypeMessage EventType = iota + 1
	// EventTypeMutation carries a remote delete, edit, or reaction.
	EventTypeMutation
	// EventTypeAcknowledgement carries delivery progress for one recipient.
	EventTypeAcknowledgement
)

func (t EventType) String() string {
	switch t {
	case EventTypeMessage:
		return "message"
	case EventTypeMutation:
		return "mutation"
	case EventTypeAcknowledgement:
		return "acknowledgement"
	}
	return "unknown"
}

// Event wraps upstream payloads for the ingestion queue.
type Event struct {
	Type            EventType
	Message         *model.MessagePayload
	Mutation        *model.MutationPayload
	Acknowledgement *model.AcknowledgementPayload
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so transport callbacks never block on the engine.
// It uses a channel for signaling to enable context-aware waiting in the
// Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Release the payload pointers held by the backing array.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
