// Package buffer provides a bounded ring for keeping recent history.
package buffer

import (
	"sync"
)

// Ring is a thread-safe circular buffer that keeps the most recent items up
// to a fixed capacity. When the ring is full, the oldest item is discarded
// to make room for a new one.
type Ring[T any] struct {
	items    []T
	start    int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a Ring with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item, discarding the oldest item when the ring is full.
// It reports whether an item was discarded.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < r.capacity {
		r.items[(r.start+r.size)%r.capacity] = item
		r.size++
		return false
	}

	r.items[r.start] = item
	r.start = (r.start + 1) % r.capacity
	return true
}

// Items returns a copy of the items, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return nil
	}
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%r.capacity]
	}
	return out
}

// Last returns the most recent item.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.start+r.size-1)%r.capacity], true
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start = 0
	r.size = 0
}

// Len returns the current number of items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.size
}

// Cap returns the capacity of the ring.
func (r *Ring[T]) Cap() int {
	return r.capacity
}
