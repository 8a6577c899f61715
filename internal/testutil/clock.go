// Package testutil holds deterministic helpers shared by tests and the
// scenario harness.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time a DeterministicClock reports at tick 0.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe logical clock that also stands in for
// time.Now. Each tick is one second past Epoch, so history timestamps are
// distinct and reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock at tick 0. The first call to Next
// returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances the clock and returns the new tick.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current tick without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now advances the clock and returns the matching wall time. Its signature
// matches time.Now so it can be injected wherever a clock func is taken.
func (c *DeterministicClock) Now() time.Time {
	return Epoch.Add(time.Duration(c.Next()) * time.Second)
}

// Reset returns the clock to tick 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
