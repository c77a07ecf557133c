package memorystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// go test -v --run TestSlidingWindowEvictsOldest
func TestSlidingWindowEvictsOldest(t *testing.T) {
	w := NewSlidingWindow[int](3)
	for i := 1; i <= 5; i++ {
		w.Push(i)
		assert.LessOrEqual(t, w.Len(), 3)
	}
	assert.Equal(t, []int{3, 4, 5}, w.Items())

	w.Push(6, 7, 8, 9)
	assert.Equal(t, []int{7, 8, 9}, w.Items())

	last, ok := w.Last()
	assert.True(t, ok)
	assert.Equal(t, 9, last)
}

// go test -v --run TestSlidingWindowReplaceKeepsNewest
func TestSlidingWindowReplaceKeepsNewest(t *testing.T) {
	w := NewSlidingWindow[string](2)
	in := []string{"a", "b", "c"}
	w.Replace(in)
	assert.Equal(t, []string{"b", "c"}, w.Items())

	// caller's slice is not aliased
	in[2] = "z"
	assert.Equal(t, []string{"b", "c"}, w.Items())

	w.Clear()
	assert.Equal(t, 0, w.Len())
	_, ok := w.Last()
	assert.False(t, ok)
}

// go test -v --run TestSlidingWindowItemsIsCopy
func TestSlidingWindowItemsIsCopy(t *testing.T) {
	w := NewSlidingWindow[int](4)
	w.Push(1, 2)
	items := w.Items()
	items[0] = 100
	assert.Equal(t, 1, w.At(0))
	assert.Equal(t, 4, w.MaxSize())
}
