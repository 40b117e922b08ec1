// Package testutil provides deterministic test doubles shared across
// packages.
package testutil

import (
	"sync"
	"time"
)

// ManualWallClock is a wall-clock source that only moves when told to.
//
// Substituting it for the system clock makes audit timestamps and
// tick deltas fully reproducible, which golden trace comparison needs.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ManualWallClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualWallClock creates a clock frozen at the given instant.
func NewManualWallClock(start time.Time) *ManualWallClock {
	return &ManualWallClock{now: start}
}

// Now returns the current frozen instant.
func (c *ManualWallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
//
// Monotonic by construction: negative d panics. Tests that need to go
// backwards in time are testing the wrong thing.
func (c *ManualWallClock) Advance(d time.Duration) time.Time {
	if d < 0 {
		panic("ManualWallClock: cannot advance backwards")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to the given instant.
func (c *ManualWallClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
