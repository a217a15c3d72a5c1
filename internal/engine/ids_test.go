package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSequentialGenerator(t *testing.T) {
	g := NewSequentialGenerator()
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", g.NewID().String())
	assert.Equal(t, "00000000-0000-7000-8000-000000000002", g.NewID().String())
}

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.NewID(), g.NewID()
	assert.Equal(t, uuid.Version(7), a.Version())
	assert.NotEqual(t, a, b)
}
