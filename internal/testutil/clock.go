package testutil

import (
	"sync"
	"time"
)

// StepClock is a fake clock that advances by a fixed step on every read.
//
// Timings measured with it depend only on how many times the clock was
// read, which keeps diagnostics deterministic.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepClock creates a clock starting at the Unix epoch.
func NewStepClock(step time.Duration) *StepClock {
	return &StepClock{now: time.Unix(0, 0).UTC(), step: step}
}

// Now returns the current time, then advances the clock by one step.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Reads returns how many times Now has been called.
func (c *StepClock) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.step == 0 {
		return 0
	}
	return int(c.now.Sub(time.Unix(0, 0).UTC()) / c.step)
}

// Reset rewinds the clock to the Unix epoch.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(0, 0).UTC()
}
