// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time surface used by timer-driven code. It mirrors the
// parts of the standard time package the engine needs; code that wants
// the current time, a delay, or a periodic tick takes a Clock instead
// of calling the time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the fire time once d has
	// elapsed. A non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f after d. The returned Timer has a nil C;
	// it exists so the call can be cancelled with Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a ticker firing every d. Panics if d is not
	// positive, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a cancellable scheduled call. Only AfterFunc produces one.
type Timer struct {
	// C is nil for AfterFunc timers; the scheduled function is the
	// delivery mechanism.
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the pending call. It reports whether the call was still
// pending; false means it already ran or was already stopped. Stop
// does not wait for a running callback to return.
func (t *Timer) Stop() bool { return t.stop() }

// Reset reschedules the call for d from now, reviving a fired or
// stopped timer. It reports whether the timer was active beforehand.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }

// Ticker delivers a tick on C every interval. C has capacity one and
// ticks are dropped, not queued, when the consumer lags, matching
// time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop ends the tick stream. C is not closed; a pending buffered tick
// may still be read.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the interval; the next tick arrives a full new
// interval from now.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }
