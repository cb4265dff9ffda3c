// Package clock abstracts the wall clock so message timestamps can be
// controlled in tests.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Production code uses Real(); tests use
// Fake() to get deterministic timestamps.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// FakeClock is a Clock that only moves when told to. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the fake time. If a step is configured the clock advances by
// it after every call, which gives each caller a distinct instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t, which may be in the past.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// AutoStep makes every Now call advance the clock by d afterwards.
func (c *FakeClock) AutoStep(d time.Duration) {
	c.mu.Lock()
	c.step = d
	c.mu.Unlock()
}
