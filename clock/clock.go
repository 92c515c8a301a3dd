// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package clock

import (
	"sync"
	"time"
)

// Clock provides time operations for deterministic testing
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// AutoClock uses real time
type AutoClock struct{}

// NewAutoClock creates a clock that uses real time
func NewAutoClock() *AutoClock {
	return &AutoClock{}
}

func (c *AutoClock) Now() time.Time {
	return time.Now().UTC()
}

func (c *AutoClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// ManualClock only moves when advanced. Sleep advances it instead of blocking,
// so simulated pauses show up in timestamps without slowing tests down.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock creates a clock with manual time control
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *ManualClock) Sleep(d time.Duration) {
	c.Advance(d)
}

// Advance moves time forward
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceTo sets the current time to a specific point. Moving backwards is ignored.
func (c *ManualClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}
