// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"errors"
	"fmt"

	"github.com/thyone-project/thyone/wire"
)

var (
	// ErrKernelDead is returned by operations that need a live kernel
	// when the session is dead or shut down.
	ErrKernelDead = errors.New("kernel: kernel is dead")

	// ErrQueueFull is returned by Execute when the execution queue has
	// reached its configured bound.
	ErrQueueFull = errors.New("kernel: execution queue full")

	// ErrAlreadyStarted is returned by Start on a session that is not
	// unstarted.
	ErrAlreadyStarted = errors.New("kernel: session already started")

	// ErrNotStarted is returned by operations that need a started
	// session, and by Restart before the first Start.
	ErrNotStarted = errors.New("kernel: session not started")

	// ErrCommClosed is returned by Send and Close on a comm that is no
	// longer open.
	ErrCommClosed = errors.New("kernel: comm closed")

	// ErrSessionLost is the close reason handed to comm handlers when
	// the session dies or restarts under them.
	ErrSessionLost = errors.New("kernel: session lost")
)

// StartupError reports that a kernel never became ready: every launch
// attempt failed, or the ready handshake did not complete within the
// startup timeout. The session is left unstarted (or dead, when the
// failure happened during Restart) and the operation may be retried.
type StartupError struct {
	// Attempts is the number of launch attempts made.
	Attempts int
	// Err is the last underlying cause.
	Err error
}

func (e *StartupError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("kernel: startup failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("kernel: startup failed: %v", e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// TransportError reports that the connection to a live kernel failed:
// a channel error, a signature failure, a heartbeat timeout, or the
// kernel process exiting. The session is dead afterwards; only an
// explicit Restart recovers it.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("kernel: kernel disconnected: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AbortStage says how far a request had gotten when it was aborted.
type AbortStage string

const (
	// AbortQueued means the request was never transmitted.
	AbortQueued AbortStage = "queued"
	// AbortInFlight means the request had been sent and was awaiting
	// its terminal reply.
	AbortInFlight AbortStage = "in flight"
)

// AbortedError resolves a request that was cancelled, interrupted, or
// flushed by a restart or shutdown before completing. It is an
// expected outcome, not a fault.
type AbortedError struct {
	Stage  AbortStage
	Reason string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("kernel: request aborted while %s: %s", e.Stage, e.Reason)
}

// UnknownMessageError classifies an inbound message that references a
// parent with no live route, such as a late reply for a request that
// already completed. These are dropped and logged at debug severity,
// never returned to callers.
type UnknownMessageError struct {
	MessageType wire.MessageType
	ParentID    string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("kernel: no route for %s message with parent %q", e.MessageType, e.ParentID)
}

// CommProtocolError reports a protocol violation on one comm: an open
// for an unregistered target, or traffic for an unknown comm ID. The
// offending comm is closed or refused; the session and other comms are
// unaffected.
type CommProtocolError struct {
	CommID string
	Target string
	Reason string
}

func (e *CommProtocolError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("kernel: comm %s (target %q): %s", e.CommID, e.Target, e.Reason)
	}
	return fmt.Sprintf("kernel: comm %s: %s", e.CommID, e.Reason)
}
