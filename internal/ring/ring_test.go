package ring

import "testing"

func TestFIFOWraparound(t *testing.T) {
	t.Parallel()

	b := New[int](4)
	next, want := 0, 0
	// Interleave pushes and pops so the head walks around the storage
	// several times.
	for round := 0; round < 10; round++ {
		for !b.Full() {
			b.Push(next)
			next++
		}
		for i := 0; i < 3; i++ {
			if got := b.Pop(); got != want {
				t.Fatalf("round %d: got %d, want %d", round, got, want)
			}
			want++
		}
	}
	for !b.Empty() {
		if got := b.Pop(); got != want {
			t.Fatalf("drain: got %d, want %d", got, want)
		}
		want++
	}
	if want != next {
		t.Fatalf("popped %d elements, pushed %d", want, next)
	}
}

func TestAtPeekBack(t *testing.T) {
	t.Parallel()

	b := New[string](3)
	if b.Peek() != "" || b.Back() != "" {
		t.Fatal("expected zero values from empty buffer")
	}
	b.Push("a")
	b.Push("b")
	b.Pop()
	b.Push("c")
	b.Push("d") // wraps

	if got := b.Peek(); got != "b" {
		t.Errorf("Peek = %q, want %q", got, "b")
	}
	if got := b.Back(); got != "d" {
		t.Errorf("Back = %q, want %q", got, "d")
	}
	if got := b.At(1); got != "c" {
		t.Errorf("At(1) = %q, want %q", got, "c")
	}
	if got := b.At(3); got != "" {
		t.Errorf("At(3) = %q, want zero", got)
	}
	if got := b.At(-1); got != "" {
		t.Errorf("At(-1) = %q, want zero", got)
	}
}

func TestPushFullPanics(t *testing.T) {
	t.Parallel()

	b := New[int](1)
	b.Push(1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on push into full buffer")
		}
	}()
	b.Push(2)
}

func TestPopEmpty(t *testing.T) {
	t.Parallel()

	b := New[*int](2)
	if got := b.Pop(); got != nil {
		t.Fatalf("Pop on empty = %v, want nil", got)
	}
	if b.Len() != 0 {
		t.Fatalf("Len = %d, want 0", b.Len())
	}
}

func TestMoveBetweenPoolAndQueue(t *testing.T) {
	t.Parallel()

	arena := make([]int, 5)
	pool := New[*int](5)
	for i := range arena {
		arena[i] = i
		pool.Push(&arena[i])
	}
	queue := pool.Clone()
	if queue.Cap() != 5 || queue.Len() != 0 {
		t.Fatalf("clone: cap=%d len=%d, want 5 0", queue.Cap(), queue.Len())
	}

	if !MoveOne(queue, pool) || !MoveOne(queue, pool) {
		t.Fatal("MoveOne failed with available elements")
	}
	if pool.Len() != 3 || queue.Len() != 2 {
		t.Fatalf("after MoveOne: pool=%d queue=%d", pool.Len(), queue.Len())
	}
	if queue.Peek() != &arena[0] {
		t.Fatal("MoveOne did not transfer the pool head")
	}

	if n := MoveAll(pool, queue); n != 2 {
		t.Fatalf("MoveAll moved %d, want 2", n)
	}
	if MoveOne(queue, queue.Clone()) {
		t.Fatal("MoveOne from empty reported success")
	}
	if pool.Len() != 5 {
		t.Fatalf("pool len = %d, want 5", pool.Len())
	}
	// Elements returned to the pool keep FIFO order behind the rest.
	if pool.Back() != &arena[1] {
		t.Fatal("MoveAll did not preserve order")
	}
}
