package scheduler

import "time"

// Clock is a millisecond counter that wraps at 2^32 (about 49.7 days).
type Clock interface {
	NowMillis() uint32
}

// MonotonicClock counts milliseconds since it was created.
type MonotonicClock struct {
	start time.Time
}

func NewClock() *MonotonicClock { return &MonotonicClock{start: time.Now()} }

func (c *MonotonicClock) NowMillis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// Uptime is the wall duration since the clock started (not truncated).
func (c *MonotonicClock) Uptime() time.Duration { return time.Since(c.start) }

// TaskClock tracks one periodic task.
type TaskClock struct {
	LastFire uint32
	Interval uint32
}

// Due reports whether Interval ms have elapsed since LastFire. Unsigned
// subtraction keeps this correct across counter wraparound.
func (c TaskClock) Due(now uint32) bool {
	return now-c.LastFire >= c.Interval
}
