// Package replay implements the bounded replay buffer of training examples, with uniform sampling
// without replacement.
package replay

import (
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
)

// ErrNotEnoughExamples is returned by Sample when the buffer holds fewer items than requested.
var ErrNotEnoughExamples = errors.New("not enough examples in replay buffer")

// Buffer is a FIFO ring buffer of fixed capacity: once full, appending evicts the oldest item.
// It is safe for concurrent use.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	next     int // Position of the next write once the buffer is full.
	capacity int
}

// New creates an empty buffer. It panics if capacity is not positive.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic(errors.Errorf("replay.New: capacity must be positive, got %d", capacity))
	}
	return &Buffer[T]{items: make([]T, 0, capacity), capacity: capacity}
}

// Append adds x, evicting the oldest item if the buffer is full.
func (b *Buffer[T]) Append(x T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) < b.capacity {
		b.items = append(b.items, x)
		return
	}
	b.items[b.next] = x
	b.next = (b.next + 1) % b.capacity
}

// Len returns the number of items in the buffer.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Capacity returns the maximum number of items held.
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}

// Items returns a copy of the contents, from the oldest to the newest.
func (b *Buffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := make([]T, 0, len(b.items))
	items = append(items, b.items[b.next:]...)
	return append(items, b.items[:b.next]...)
}

// Sample returns k items at distinct positions, chosen uniformly at random.
// It returns ErrNotEnoughExamples if the buffer holds fewer than k items.
func (b *Buffer[T]) Sample(rng *rand.Rand, k int) ([]T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if k > len(b.items) {
		return nil, errors.Wrapf(ErrNotEnoughExamples, "requested %d, buffer has %d", k, len(b.items))
	}
	// Partial Fisher-Yates shuffle over the indices.
	indices := make([]int, len(b.items))
	for ii := range indices {
		indices[ii] = ii
	}
	sample := make([]T, k)
	for ii := range k {
		jj := ii + rng.IntN(len(indices)-ii)
		indices[ii], indices[jj] = indices[jj], indices[ii]
		sample[ii] = b.items[indices[ii]]
	}
	return sample, nil
}
