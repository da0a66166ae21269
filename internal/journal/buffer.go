package journal

import "sync"

// Buffer is an unbounded FIFO ring that doubles its capacity once it is 70%
// full, so producers never block on a slow database.
type Buffer[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   int // next read
	size   int
	closed bool

	received int64
	drained  int64
	resizes  int
}

// BufferStats describes a buffer.
type BufferStats struct {
	Len      int   `json:"len"`
	Capacity int   `json:"capacity"`
	Received int64 `json:"received"`
	Drained  int64 `json:"drained"`
	Resizes  int   `json:"resizes"`
}

// NewBuffer creates a buffer with the given initial capacity.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer[T]{ring: make([]T, capacity)}
}

// Send appends an item. It returns false once the buffer is closed.
func (b *Buffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if (b.size+1)*10 >= len(b.ring)*7 {
		b.grow()
	}
	b.ring[(b.head+b.size)%len(b.ring)] = item
	b.size++
	b.received++
	return true
}

// Drain removes up to max items in FIFO order. max <= 0 drains everything.
func (b *Buffer[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.size
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	var zero T
	out := make([]T, n)
	for i := range out {
		out[i] = b.ring[b.head]
		b.ring[b.head] = zero
		b.head = (b.head + 1) % len(b.ring)
	}
	b.size -= n
	b.drained += int64(n)
	return out
}

// Close stops accepting items. Buffered items can still be drained.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Len:      b.size,
		Capacity: len(b.ring),
		Received: b.received,
		Drained:  b.drained,
		Resizes:  b.resizes,
	}
}

// grow doubles the ring and unwraps it. Called with mu held.
func (b *Buffer[T]) grow() {
	next := make([]T, len(b.ring)*2)
	n := copy(next, b.ring[b.head:])
	if n < b.size {
		copy(next[n:], b.ring[:b.size-n])
	}
	b.ring = next
	b.head = 0
	b.resizes++
}
