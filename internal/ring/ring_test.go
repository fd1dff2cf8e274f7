package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer_FillsInOrder(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)

	require.Equal(t, 2, b.Len())
	require.Equal(t, []int{1, 2}, b.Slice())
}

func TestBuffer_EvictsOldestWhenFull(t *testing.T) {
	b := New[int](60)
	for i := 1; i <= 61; i++ {
		b.Push(i)
	}

	got := b.Slice()
	require.Len(t, got, 60)
	require.Equal(t, 2, got[0])
	require.Equal(t, 61, got[59])
}

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b := New[string](100)
	for i := 0; i < 1000; i++ {
		b.Push("x")
		require.LessOrEqual(t, b.Len(), 100)
	}
	require.Equal(t, 100, b.Cap())
}

func TestBuffer_SliceIsACopy(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	s := b.Slice()
	s[0] = 42

	require.Equal(t, []int{1}, b.Slice())
}

func TestBuffer_Reset(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Reset()

	require.Equal(t, 0, b.Len())
	require.Empty(t, b.Slice())

	b.Push(4)
	require.Equal(t, []int{4}, b.Slice())
}

func TestNew_ClampsCapacity(t *testing.T) {
	b := New[int](0)
	require.Equal(t, 1, b.Cap())
	b.Push(1)
	b.Push(2)
	require.Equal(t, []int{2}, b.Slice())
}
