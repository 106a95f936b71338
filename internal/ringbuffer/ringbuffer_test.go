package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer_OverwritesOldestOnOverflow(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	require.Equal(t, []int{1, 2, 3}, b.Slice())

	b.Push(4)
	require.Equal(t, []int{2, 3, 4}, b.Slice())
	require.Equal(t, 3, b.Len())
}

func TestBuffer_LastAndEmpty(t *testing.T) {
	b := New[string](2)
	_, ok := b.Last()
	require.False(t, ok)

	b.Push("a")
	b.Push("b")
	v, ok := b.Last()
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b := New[int](600)
	for i := 0; i < 10000; i++ {
		b.Push(i)
	}
	require.Equal(t, 600, b.Len())
	require.LessOrEqual(t, len(b.Slice()), 600)
}
