package download

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueCoversAllIndicesExactlyOnce(t *testing.T) {
	q := NewQueue(10, rand.New(rand.NewSource(1)))
	require.Equal(t, 10, q.Len())

	seen := make(map[int]bool)
	for {
		idx, ok := q.Pop()
		if !ok {
			break
		}
		require.False(t, seen[idx], "index %d popped twice", idx)
		seen[idx] = true
	}
	require.Len(t, seen, 10)
}

func TestQueuePushReturnsIndex(t *testing.T) {
	q := NewQueue(1, rand.New(rand.NewSource(1)))
	idx, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 0, q.Len())

	q.Push(idx)
	require.Equal(t, 1, q.Len())

	got, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, idx, got)
}

func TestStatusMonotonic(t *testing.T) {
	s := NewStatus(3)
	require.Equal(t, 0, s.Snapshot())
	s.Increment()
	s.Increment()
	require.Equal(t, 2, s.Snapshot())
}
