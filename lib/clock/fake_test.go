// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testStart = time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	c := NewFake(testStart)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case fired := <-ch:
		t.Fatalf("After fired early at %v", fired)
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-ch:
		if want := testStart.Add(5 * time.Second); !fired.Equal(want) {
			t.Errorf("fire time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	c := NewFake(testStart)
	select {
	case fired := <-c.After(0):
		if !fired.Equal(testStart) {
			t.Errorf("fire time = %v, want %v", fired, testStart)
		}
	default:
		t.Fatal("After(0) did not deliver before returning")
	}
}

func TestFakeAfterFuncOrdering(t *testing.T) {
	t.Parallel()

	c := NewFake(testStart)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(3 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("callbacks ran in order %v, want [1 2 3]", order)
	}
	if got := c.PendingCount(); got != 0 {
		t.Errorf("PendingCount = %d after all fired, want 0", got)
	}
}

func TestFakeTimerStopAndReset(t *testing.T) {
	t.Parallel()

	c := NewFake(testStart)
	var fired atomic.Int64
	timer := c.AfterFunc(time.Second, func() { fired.Add(1) })

	if !timer.Stop() {
		t.Error("Stop on pending timer = false, want true")
	}
	c.Advance(2 * time.Second)
	if got := fired.Load(); got != 0 {
		t.Fatalf("stopped timer fired %d times", got)
	}

	if timer.Reset(time.Second) {
		t.Error("Reset on stopped timer = true, want false")
	}
	c.Advance(time.Second)
	if got := fired.Load(); got != 1 {
		t.Fatalf("reset timer fired %d times, want 1", got)
	}
	if timer.Stop() {
		t.Error("Stop after firing = true, want false")
	}
}

func TestFakeTickerDropsMissedTicks(t *testing.T) {
	t.Parallel()

	c := NewFake(testStart)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(time.Second)
	if tick := <-ticker.C; !tick.Equal(testStart.Add(time.Second)) {
		t.Errorf("first tick = %v, want %v", tick, testStart.Add(time.Second))
	}

	// Three intervals pass without a reader; only one tick may queue.
	c.Advance(3 * time.Second)
	<-ticker.C
	select {
	case tick := <-ticker.C:
		t.Fatalf("ticker queued extra tick %v", tick)
	default:
	}
}

func TestFakeTickerStop(t *testing.T) {
	t.Parallel()

	c := NewFake(testStart)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()
	c.Advance(5 * time.Second)
	select {
	case tick := <-ticker.C:
		t.Fatalf("stopped ticker delivered %v", tick)
	default:
	}
}

func TestFakeAdvanceRunsRescheduledWork(t *testing.T) {
	t.Parallel()

	// A callback that re-arms itself inside the advanced window must
	// keep firing until the window is exhausted.
	c := NewFake(testStart)
	var fires int
	var arm func()
	arm = func() {
		c.AfterFunc(time.Second, func() {
			fires++
			arm()
		})
	}
	arm()

	c.Advance(4 * time.Second)
	if fires != 4 {
		t.Errorf("chained callback fired %d times, want 4", fires)
	}
	if got := c.Now(); !got.Equal(testStart.Add(4 * time.Second)) {
		t.Errorf("Now = %v, want %v", got, testStart.Add(4*time.Second))
	}
}

func TestFakeBlockUntil(t *testing.T) {
	t.Parallel()

	c := NewFake(testStart)
	slept := make(chan struct{})
	go func() {
		c.Sleep(time.Minute)
		close(slept)
	}()

	c.BlockUntil(1)
	c.Advance(time.Minute)
	select {
	case <-slept:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance past its deadline")
	}
}
