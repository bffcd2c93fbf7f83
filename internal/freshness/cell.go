// Package freshness holds the timestamped state cells written by the watchers
// and the gate that decides whether that state is fresh enough to probe with.
package freshness

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
)

// Cell is a single-writer, many-reader value with the time it was last written.
// A cell that has never been written is always stale.
type Cell[T any] struct {
	mu        sync.RWMutex
	clock     mclock.Clock
	value     T
	set       bool
	updatedAt mclock.AbsTime
}

// NewCell creates an empty cell. Until the first write, Read reports the age
// since creation.
func NewCell[T any](clock mclock.Clock) *Cell[T] {
	if clock == nil {
		clock = mclock.System{}
	}
	return &Cell[T]{clock: clock, updatedAt: clock.Now()}
}

// Write stores v and refreshes the timestamp.
func (c *Cell[T]) Write(v T) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = v
	c.set = true
	if now > c.updatedAt {
		c.updatedAt = now
	}
}

// Read returns a copy of the value, whether it was ever written, and its age.
func (c *Cell[T]) Read() (T, bool, time.Duration) {
	c.mu.RLock()
	v, ok, at := c.value, c.set, c.updatedAt
	c.mu.RUnlock()

	age := c.clock.Now().Sub(at)
	if age < 0 {
		age = 0
	}
	return v, ok, age
}
