package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscussionLocks(t *testing.T) {
	l := newDiscussionLocks()
	a := l.get(1)
	assert.Same(t, a, l.get(1))
	assert.NotSame(t, a, l.get(2))

	l.forget(1)
	assert.NotSame(t, a, l.get(1))
}
