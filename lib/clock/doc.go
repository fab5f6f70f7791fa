// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that timer-driven behavior is
// testable. Kernel startup timeouts, the heartbeat monitor, and
// shutdown grace periods all run against a [Clock]; production code
// injects [Real], tests inject [Fake] and advance time explicitly.
//
// The fake clock makes timing tests deterministic instead of sleepy: a
// test that needs "three missed heartbeats" advances the clock three
// intervals and observes the result immediately. [Fake.BlockUntil]
// closes the race between a goroutine registering its timer and the
// test advancing past it.
package clock
