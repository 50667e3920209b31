package domain

import "time"

// Clock abstracts wall-clock access so trial, grace-period and backoff
// timing is testable without real waiting.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	Current time.Time
}

func NewFakeClock(t time.Time) *FakeClock { return &FakeClock{Current: t} }

func (c *FakeClock) Now() time.Time { return c.Current }

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }
