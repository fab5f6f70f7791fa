// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel manages sessions with external compute kernels.
//
// A [Session] owns one kernel: its process or attached connection, its
// lifecycle state machine, and every conversation with it. Code is
// submitted with [Session.Execute], which returns an [*Execution]
// handle immediately; the handle resolves when the kernel delivers a
// terminal reply, when the request is cancelled, or when the kernel is
// lost. Streaming events while the request runs (output chunks, rich
// display data, status changes) are delivered through a per-request
// [Callbacks] struct, and session-wide events through a [Monitor].
//
// # Queue discipline
//
// Execute-class requests are serialized through a FIFO queue: at most
// one is in flight at a time, and requests submitted before the kernel
// is ready, while it is busy, or after it has died are held and
// transmitted in submission order once the session is idle again. The
// queue has a configurable bound; overflow fails the submission with
// [ErrQueueFull] rather than growing without limit. Comm traffic and
// interrupts are out of band and bypass the queue entirely.
//
// # Lifecycle
//
// Session states move Unstarted -> Starting -> Idle <-> Busy, with
// Restarting covering a deliberate relaunch and Dead reached on
// transport failure, heartbeat loss, kernel process exit, or shutdown.
// Death fails the in-flight request and force-closes open comms, but
// queued requests are kept and resume after [Session.Restart];
// [Session.Shutdown] is terminal and drains them with [AbortedError].
//
// # Concurrency
//
// All session state is owned by a single run-loop goroutine. API
// methods and transport readers communicate with it only through its
// event channel, so no session field is ever guarded by a lock.
// Callbacks run on the loop goroutine and must not block; hand work
// off to your own goroutine or UI loop instead.
package kernel
