package fractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueuePushPop(t *testing.T) {
	q := NewWorkQueue()
	require.NoError(t, q.Push(NewWork("a")))
	require.NoError(t, q.Push(NewWork("b")))
	require.NoError(t, q.Push(NewWork("c")))
	assert.Equal(t, 3, q.Size())

	batch := q.PopBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Input)
	assert.Equal(t, "b", batch[1].Input)
	assert.Equal(t, 1, q.Size())
}

func TestWorkQueueRejectsNilInput(t *testing.T) {
	q := NewWorkQueue()
	err := q.Push(Work{})
	assert.ErrorIs(t, err, ErrInvalidWork)
}

func TestWorkQueuePopBatchMoreThanAvailable(t *testing.T) {
	q := NewWorkQueue()
	require.NoError(t, q.Push(NewWork(1)))
	batch := q.PopBatch(5)
	assert.Len(t, batch, 1)
	assert.Empty(t, q.PopBatch(5))
}

func TestWorkQueuePushAll(t *testing.T) {
	q := NewWorkQueue()
	require.NoError(t, q.PushAll([]Work{NewWork(1), NewWork(2)}))
	assert.Equal(t, 2, q.Size())

	err := q.PushAll([]Work{NewWork(3), {}})
	assert.ErrorIs(t, err, ErrInvalidWork)
}
