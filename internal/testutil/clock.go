package testutil

import (
	"strconv"
	"sync"
	"time"
)

// Clock is a manually advanced wall clock for tests.
//
// Pass c.Now wherever a func() time.Time is accepted (action.WithClock,
// monitor.WithExecutorClock).
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Epoch is the default start time of a Clock.
var Epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// NewClock creates a clock at start. A zero start means Epoch.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = Epoch
	}
	return &Clock{now: start}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SequenceIDs returns a generator yielding prefix-1, prefix-2, ... for
// deterministic tick IDs (monitor.WithTickIDs).
func SequenceIDs(prefix string) func() string {
	var (
		mu  sync.Mutex
		seq int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return prefix + "-" + strconv.Itoa(seq)
	}
}
