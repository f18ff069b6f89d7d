package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Every observer event of a run is
// stamped with a strictly increasing seq from the run's clock, so a trace
// can be ordered without wall-clock time.
//
// Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the clock without incrementing it.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
