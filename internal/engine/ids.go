package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator mints permanent message ids.
// Implemented by UUIDv7Generator (production) and SequentialGenerator (tests).
type IDGenerator interface {
	NewID() uuid.UUID
}

// UUIDv7Generator generates time-sortable UUIDv7 permanent ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID creates a new UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// SequentialGenerator returns predictable ids for deterministic tests and
// golden timelines: 00000000-0000-7000-8000-000000000001, ...002, and so on.
//
// Thread-safety: SequentialGenerator is safe for concurrent use via internal mutex.
type SequentialGenerator struct {
	mu   sync.Mutex
	next uint64
}

// NewSequentialGenerator creates a generator whose first id ends in 1.
func NewSequentialGenerator() *SequentialGenerator {
	return &SequentialGenerator{next: 1}
}

// NewID returns the next id in sequence.
func (g *SequentialGenerator) NewID() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := uuid.MustParse(fmt.Sprintf("00000000-0000-7000-8000-%012x", g.next))
	g.next++
	return id
}
