package memorystore

// SlidingWindow is a bounded, FIFO-evicting sequence.
// After every mutation Len() <= MaxSize(); eviction always drops the oldest items.
// It is not safe for concurrent use; the Store guards it.
type SlidingWindow[T any] struct {
	items   []T
	maxSize int
}

// NewSlidingWindow creates a window holding at most maxSize items.
func NewSlidingWindow[T any](maxSize int) *SlidingWindow[T] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &SlidingWindow[T]{
		items:   make([]T, 0, maxSize),
		maxSize: maxSize,
	}
}

// Push appends items in order and evicts from the front.
func (w *SlidingWindow[T]) Push(items ...T) {
	w.items = append(w.items, items...)
	w.truncate()
}

// Replace swaps the contents for items, keeping only the newest MaxSize.
func (w *SlidingWindow[T]) Replace(items []T) {
	w.items = append(w.items[:0:0], items...)
	w.truncate()
}

// Set overwrites the item at index i.
func (w *SlidingWindow[T]) Set(i int, item T) {
	w.items[i] = item
}

// At returns the item at index i.
func (w *SlidingWindow[T]) At(i int) T {
	return w.items[i]
}

// Items returns a copy in window order.
func (w *SlidingWindow[T]) Items() []T {
	cp := make([]T, len(w.items))
	copy(cp, w.items)
	return cp
}

// Last returns the newest item.
func (w *SlidingWindow[T]) Last() (T, bool) {
	var zero T
	if len(w.items) == 0 {
		return zero, false
	}
	return w.items[len(w.items)-1], true
}

func (w *SlidingWindow[T]) Len() int     { return len(w.items) }
func (w *SlidingWindow[T]) MaxSize() int { return w.maxSize }

// Clear empties the window.
func (w *SlidingWindow[T]) Clear() {
	w.items = w.items[:0]
}

func (w *SlidingWindow[T]) truncate() {
	if over := len(w.items) - w.maxSize; over > 0 {
		// copy down so the backing array does not keep growing
		n := copy(w.items, w.items[over:])
		clear(w.items[n:])
		w.items = w.items[:n]
	}
}
