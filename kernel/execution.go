// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"

	"github.com/thyone-project/thyone/wire"
)

// Execution is the handle for one submitted request. The handle
// resolves exactly once: Done closes when the request reaches a
// terminal state, after which Result is valid.
type Execution struct {
	id     string
	code   string
	done   chan struct{}
	result Result
}

// Result is the terminal outcome of a request.
type Result struct {
	// Reply is the terminal reply content the kernel sent, such as a
	// wire.ExecuteReply. Nil when the request ended without a reply
	// (cancelled, flushed, or the kernel was lost).
	Reply wire.Content

	// Err is the engine-level failure: an AbortedError for cancelled,
	// interrupted, or flushed requests, a TransportError when the
	// kernel was lost mid-request. Nil for requests that completed,
	// even ones whose reply reports an execution error.
	Err error
}

func newExecution(id, code string) *Execution {
	return &Execution{id: id, code: code, done: make(chan struct{})}
}

// ID returns the request's message ID.
func (e *Execution) ID() string { return e.id }

// Code returns the submitted source code. Empty for auxiliary
// requests.
func (e *Execution) Code() string { return e.code }

// Done returns a channel closed when the request reaches a terminal
// state.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Result returns the terminal outcome. Only valid after Done is
// closed; before that it returns the zero Result.
func (e *Execution) Result() Result {
	select {
	case <-e.done:
		return e.result
	default:
		return Result{}
	}
}

// Wait blocks until the request resolves or ctx ends.
func (e *Execution) Wait(ctx context.Context) (Result, error) {
	select {
	case <-e.done:
		return e.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// finish resolves the handle. Called exactly once, from the session
// run loop.
func (e *Execution) finish(result Result) {
	e.result = result
	close(e.done)
}
