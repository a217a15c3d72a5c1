package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock for notification ordering.
//
// Every notification the engine publishes is stamped with a strictly
// increasing seq number from this clock, so consumers can order events
// without trusting wall time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to resume numbering after a restart.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// WallClock supplies the current time for expiration deadlines, read
// receipts and retention cutoffs. Tests inject a manual clock.
type WallClock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

// Now implements WallClock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
