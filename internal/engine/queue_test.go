package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSubmitQueue_FIFOOrder(t *testing.T) {
	q := newSubmitQueue()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	assert.True(t, q.Push(a))
	assert.True(t, q.Push(b))
	assert.True(t, q.Push(c))
	assert.Equal(t, 3, q.Len())

	assert.Equal(t, []uuid.UUID{a, b, c}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestSubmitQueue_DedupWhileQueued(t *testing.T) {
	q := newSubmitQueue()
	id := uuid.New()

	assert.True(t, q.Push(id))
	assert.False(t, q.Push(id))
	assert.Equal(t, 1, q.Len())

	q.Drain()

	// After a drain the same ID may be queued again.
	assert.True(t, q.Push(id))
}

func TestSubmitQueue_DrainEmpty(t *testing.T) {
	q := newSubmitQueue()
	assert.Empty(t, q.Drain())
}
