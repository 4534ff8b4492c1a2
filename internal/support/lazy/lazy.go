// Package lazy provides a compute-once cell.
package lazy

import "sync"

// Cell holds either an unevaluated producer or the value it produced.
// The producer runs at most once; it is dropped after the first Get.
type Cell[T any] struct {
	mu      sync.Mutex
	produce func() T
	value   T
	done    bool
}

// New creates a cell that evaluates produce on first access.
func New[T any](produce func() T) *Cell[T] {
	return &Cell[T]{produce: produce}
}

// Get returns the cached value, evaluating the producer on first call.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return c.value
	}
	if c.produce != nil {
		c.value = c.produce()
	}
	c.produce = nil
	c.done = true
	return c.value
}

// Evaluated reports whether the producer has already run.
func (c *Cell[T]) Evaluated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
