// Package ring provides a fixed-capacity FIFO used both as a free-list pool
// and as a work queue. Slots hold pointers into a preallocated arena, so
// moving an element between buffers never copies its payload.
package ring

// Buffer is a bounded FIFO of T. The zero value is unusable; create one with New.
// Buffer is not safe for concurrent use.
type Buffer[T any] struct {
	items []T
	start int
	n     int
}

// New returns an empty buffer that holds at most capacity elements.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Clone returns an empty buffer with the same capacity and independent storage.
func (b *Buffer[T]) Clone() *Buffer[T] {
	return New[T](len(b.items))
}

// Len reports the number of queued elements.
func (b *Buffer[T]) Len() int { return b.n }

// Cap reports the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Empty reports whether the buffer holds no elements.
func (b *Buffer[T]) Empty() bool { return b.n == 0 }

// Full reports whether another Push would overflow.
func (b *Buffer[T]) Full() bool { return b.n == len(b.items) }

func (b *Buffer[T]) slot(i int) int {
	return (b.start + i) % len(b.items)
}

// At returns the element at logical index i (0 is the head), or the zero
// value when i is out of range.
func (b *Buffer[T]) At(i int) T {
	var zero T
	if i < 0 || i >= b.n {
		return zero
	}
	return b.items[b.slot(i)]
}

// Peek returns the head without removing it.
func (b *Buffer[T]) Peek() T {
	return b.At(0)
}

// Back returns the most recently pushed element.
func (b *Buffer[T]) Back() T {
	return b.At(b.n - 1)
}

// Push appends v at the tail. Pushing into a full buffer is a programming
// error and panics.
func (b *Buffer[T]) Push(v T) {
	if b.n == len(b.items) {
		panic("ring: push into full buffer")
	}
	b.items[b.slot(b.n)] = v
	b.n++
}

// Pop removes and returns the head. An empty buffer yields the zero value;
// callers check Len first.
func (b *Buffer[T]) Pop() T {
	var zero T
	if b.n == 0 {
		return zero
	}
	v := b.items[b.start]
	b.items[b.start] = zero
	b.start = (b.start + 1) % len(b.items)
	b.n--
	return v
}

// MoveOne pops the head of src and pushes it onto dst. It reports whether an
// element was moved.
func MoveOne[T any](dst, src *Buffer[T]) bool {
	if src.n == 0 {
		return false
	}
	dst.Push(src.Pop())
	return true
}

// MoveAll drains src into dst in FIFO order and returns the number moved.
func MoveAll[T any](dst, src *Buffer[T]) int {
	moved := 0
	for src.n > 0 {
		dst.Push(src.Pop())
		moved++
	}
	return moved
}
