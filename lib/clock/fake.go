// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when the test calls
// Advance. Timers and tickers fire synchronously inside Advance, so
// once Advance returns every callback due by the new time has run.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	waiters []*fakeWaiter
	blocked []blockReq
}

// NewFake returns a FakeClock reading start.
func NewFake(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

type fakeWaiter struct {
	deadline time.Time
	period   time.Duration // 0 for one-shot waiters
	seq      int
	active   bool
	fire     func(now time.Time) // must not block
}

type blockReq struct {
	n     int
	ready chan struct{}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives the fake time once Advance
// moves past d from now. A non-positive d delivers before After
// returns.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.schedule(d, 0, func(now time.Time) { ch <- now })
	return ch
}

// AfterFunc schedules f to run inside a future Advance call. With a
// non-positive d, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	w := c.schedule(d, 0, func(time.Time) { f() })
	return &Timer{
		stop:  func() bool { return c.deactivate(w) },
		reset: func(d time.Duration) bool { return c.reschedule(w, d) },
	}
}

// NewTicker returns a ticker driven by Advance. Panics if d is not
// positive.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	ch := make(chan time.Time, 1)
	w := c.schedule(d, d, func(now time.Time) {
		select {
		case ch <- now:
		default:
		}
	})
	return &Ticker{
		C:    ch,
		stop: func() { c.deactivate(w) },
		reset: func(d time.Duration) {
			if d <= 0 {
				panic("clock: non-positive ticker interval")
			}
			c.mu.Lock()
			w.period = d
			w.deadline = c.now.Add(d)
			if !w.active {
				w.active = true
				c.waiters = append(c.waiters, w)
				c.notifyLocked()
			}
			c.mu.Unlock()
		},
	}
}

// Sleep blocks until Advance moves time past d.
func (c *FakeClock) Sleep(d time.Duration) { <-c.After(d) }

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls inside the window in deadline order. Callbacks run
// with the clock unlocked, so they may schedule further waiters; any
// new waiter due inside the same window also fires before Advance
// returns.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		w := c.nextDueLocked(target)
		if w == nil {
			break
		}
		if w.deadline.After(c.now) {
			c.now = w.deadline
		}
		if w.period > 0 {
			w.deadline = w.deadline.Add(w.period)
		} else {
			w.active = false
			c.removeLocked(w)
		}
		now := c.now
		fire := w.fire
		c.mu.Unlock()
		fire(now)
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// BlockUntil blocks until at least n waiters are pending. Tests use it
// to wait for the goroutine under test to register its timer before
// calling Advance, closing the race between registration and firing.
func (c *FakeClock) BlockUntil(n int) {
	c.mu.Lock()
	if len(c.waiters) >= n {
		c.mu.Unlock()
		return
	}
	ready := make(chan struct{})
	c.blocked = append(c.blocked, blockReq{n: n, ready: ready})
	c.mu.Unlock()
	<-ready
}

// PendingCount reports how many timers and tickers are waiting.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// schedule registers a waiter firing at now+d. One-shot waiters whose
// deadline is not in the future fire synchronously instead of
// registering.
func (c *FakeClock) schedule(d time.Duration, period time.Duration, fire func(time.Time)) *fakeWaiter {
	c.mu.Lock()
	w := &fakeWaiter{
		deadline: c.now.Add(d),
		period:   period,
		seq:      c.seq,
		fire:     fire,
	}
	c.seq++
	if period == 0 && d <= 0 {
		now := c.now
		c.mu.Unlock()
		fire(now)
		return w
	}
	w.active = true
	c.waiters = append(c.waiters, w)
	c.notifyLocked()
	c.mu.Unlock()
	return w
}

// nextDueLocked returns the pending waiter with the earliest deadline
// not after target, breaking ties by registration order.
func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var due *fakeWaiter
	for _, w := range c.waiters {
		if w.deadline.After(target) {
			continue
		}
		if due == nil || w.deadline.Before(due.deadline) ||
			(w.deadline.Equal(due.deadline) && w.seq < due.seq) {
			due = w
		}
	}
	return due
}

func (c *FakeClock) removeLocked(target *fakeWaiter) {
	for i, w := range c.waiters {
		if w == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *FakeClock) deactivate(w *fakeWaiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !w.active {
		return false
	}
	w.active = false
	c.removeLocked(w)
	return true
}

// reschedule revives or retargets a one-shot waiter, reporting whether
// it was still pending. A non-positive d fires it immediately.
func (c *FakeClock) reschedule(w *fakeWaiter, d time.Duration) bool {
	c.mu.Lock()
	wasActive := w.active
	if d <= 0 {
		if w.active {
			w.active = false
			c.removeLocked(w)
		}
		now := c.now
		fire := w.fire
		c.mu.Unlock()
		fire(now)
		return wasActive
	}
	w.deadline = c.now.Add(d)
	if !w.active {
		w.active = true
		c.waiters = append(c.waiters, w)
	}
	c.notifyLocked()
	c.mu.Unlock()
	return wasActive
}

func (c *FakeClock) notifyLocked() {
	kept := c.blocked[:0]
	for _, req := range c.blocked {
		if len(c.waiters) >= req.n {
			close(req.ready)
			continue
		}
		kept = append(kept, req)
	}
	c.blocked = kept
}

var _ Clock = (*FakeClock)(nil)
