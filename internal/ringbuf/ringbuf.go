// Package ringbuf provides a fixed-capacity sliding window backed by a ring.
// Pushing into a full window overwrites the oldest element. A Window is owned by
// a single goroutine and does no locking.
package ringbuf

// Window keeps the most recent Cap() values pushed into it.
type Window[T any] struct {
	buf  []T
	head int // index of the oldest element
	n    int
}

// New creates a window. capacity below 1 is treated as 1.
func New[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends v. When the window was full, the overwritten oldest value is
// returned with evicted=true.
func (w *Window[T]) Push(v T) (old T, evicted bool) {
	if w.n < len(w.buf) {
		w.buf[(w.head+w.n)%len(w.buf)] = v
		w.n++
		return old, false
	}
	old = w.buf[w.head]
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	return old, true
}

// Len returns the number of stored values.
func (w *Window[T]) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Full reports whether Len() == Cap().
func (w *Window[T]) Full() bool { return w.n == len(w.buf) }

// At returns the i-th value, 0 being the oldest. Panics when out of range.
func (w *Window[T]) At(i int) T {
	if i < 0 || i >= w.n {
		panic("ringbuf: index out of range")
	}
	return w.buf[(w.head+i)%len(w.buf)]
}

// Last returns the newest value.
func (w *Window[T]) Last() (T, bool) {
	var zero T
	if w.n == 0 {
		return zero, false
	}
	return w.At(w.n - 1), true
}

// Any reports whether pred holds for some stored value.
func (w *Window[T]) Any(pred func(T) bool) bool {
	for i := 0; i < w.n; i++ {
		if pred(w.At(i)) {
			return true
		}
	}
	return false
}

// Values copies the contents, oldest first.
func (w *Window[T]) Values() []T {
	out := make([]T, w.n)
	for i := range out {
		out[i] = w.At(i)
	}
	return out
}

// Reset empties the window without releasing its storage.
func (w *Window[T]) Reset() {
	var zero T
	for i := range w.buf {
		w.buf[i] = zero
	}
	w.head, w.n = 0, 0
}
