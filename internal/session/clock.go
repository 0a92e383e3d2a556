// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"
)

// Clock is the time source of a Store.
type Clock interface {
	Now() time.Time
}

// systemClock reads the wall clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// FakeClock advances by a fixed step on every call. Safe for concurrent use.
type FakeClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewFakeClock returns a clock whose first reading is start.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	return &FakeClock{next: start, step: step}
}

// Now returns the current reading and advances the clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Peek returns the next reading without advancing.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
