package engine

import (
	"fmt"
	"time"

	"github.com/roach88/msgweave/internal/model"
)

// Default settings.
const (
	DefaultSortEpsilon = 0.01
	DefaultPendingTTL  = 30 * 24 * time.Hour
)

// Settings are the engine-wide policies. Discussions may override the
// retention and wipe policies individually.
type Settings struct {
	// RetainWipedOutboundMessages wipes deleted sent messages instead of
	// removing them.
	RetainWipedOutboundMessages bool

	// SortEpsilon is the gap used when a message is clamped next to a
	// neighbour with no further neighbour beyond it.
	SortEpsilon float64

	// PendingTTL bounds how long unresolved forward references are kept.
	PendingTTL time.Duration

	// TimeRetention deletes non-new messages older than this. Zero disables.
	TimeRetention time.Duration

	// CountRetention keeps only this many non-new messages. Zero disables.
	CountRetention int64
}

// DefaultSettings returns the built-in policies.
func DefaultSettings() Settings {
	return Settings{
		SortEpsilon: DefaultSortEpsilon,
		PendingTTL:  DefaultPendingTTL,
	}
}

// Validate rejects settings the engine cannot run with.
func (s Settings) Validate() error {
	if s.SortEpsilon <= 0 {
		return fmt.Errorf("sort epsilon must be positive, got %v", s.SortEpsilon)
	}
	if s.PendingTTL < 0 {
		return fmt.Errorf("pending ttl must not be negative, got %s", s.PendingTTL)
	}
	if s.TimeRetention < 0 {
		return fmt.Errorf("time retention must not be negative, got %s", s.TimeRetention)
	}
	if s.CountRetention < 0 {
		return fmt.Errorf("count retention must not be negative, got %d", s.CountRetention)
	}
	return nil
}

func (s Settings) retainWiped(d model.Discussion) bool {
	if d.RetainWipedOutbound != nil {
		return *d.RetainWipedOutbound
	}
	return s.RetainWipedOutboundMessages
}

func (s Settings) timeRetention(d model.Discussion) time.Duration {
	if d.TimeRetention != nil {
		return *d.TimeRetention
	}
	return s.TimeRetention
}

func (s Settings) countRetention(d model.Discussion) int64 {
	if d.CountRetention != nil {
		return *d.CountRetention
	}
	return s.CountRetention
}
