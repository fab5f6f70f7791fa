// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil carries small helpers shared by tests across the
// repository, mostly channel assertions with timeouts so a stuck
// goroutine fails the test instead of hanging the run.
package testutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive waits up to timeout for a value on ch and returns it.
// The test fails if the channel closes or the timeout expires first.
func RequireReceive[T any](tb TB, ch <-chan T, timeout time.Duration, what string) T {
	tb.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			tb.Fatalf("channel closed while waiting for %s", what)
		}
		return v
	case <-time.After(timeout):
		tb.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
	var zero T
	return zero
}

// RequireSend delivers v on ch, failing the test if no receiver takes
// it within timeout.
func RequireSend[T any](tb TB, ch chan<- T, v T, timeout time.Duration, what string) {
	tb.Helper()
	select {
	case ch <- v:
	case <-time.After(timeout):
		tb.Fatalf("timed out after %v sending %s", timeout, what)
	}
}

// RequireClosed waits up to timeout for ch to be closed, draining any
// buffered values on the way.
func RequireClosed[T any](tb TB, ch <-chan T, timeout time.Duration, what string) {
	tb.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			tb.Fatalf("timed out after %v waiting for %s to close", timeout, what)
			return
		}
	}
}

// RequireNoReceive observes ch for the whole wait window and fails if
// anything arrives. Use short windows; this is a negative check and
// always costs its full duration.
func RequireNoReceive[T any](tb TB, ch <-chan T, wait time.Duration, what string) {
	tb.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			tb.Fatalf("channel closed while expecting no %s", what)
		}
		tb.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(wait):
	}
}

var uniqueCounter atomic.Uint64

// UniqueID returns a process-unique identifier with the given prefix,
// for tests that need distinct session or kernel names.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
