// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import "github.com/thyone-project/thyone/wire"

// Callbacks receives the streaming events of one request. Every field
// is optional; nil fields drop their events. All callbacks run on the
// session's run-loop goroutine and must return quickly; hand real work
// to another goroutine.
type Callbacks struct {
	// OnStream receives stdout/stderr chunks.
	OnStream func(wire.Stream)

	// OnDisplay receives rich display output.
	OnDisplay func(wire.DisplayData)

	// OnUpdateDisplay receives in-place replacements for earlier
	// display output with a matching display ID.
	OnUpdateDisplay func(wire.UpdateDisplayData)

	// OnResult receives the execution's value, if it produced one.
	OnResult func(wire.ExecuteResult)

	// OnError receives the broadcast form of an execution error.
	OnError func(wire.RuntimeError)

	// OnClear receives requests to discard accumulated output.
	OnClear func(wire.ClearOutput)

	// OnExecuteInput receives the kernel's echo of the accepted code
	// with its assigned execution counter.
	OnExecuteInput func(wire.ExecuteInput)

	// OnStatus receives kernel busy/idle announcements attributed to
	// this request, and session-wide announcements with no parent.
	OnStatus func(wire.ExecutionState)

	// OnInput receives kernel-initiated input prompts while this
	// request is in flight. Answer with Session.RespondStdin. When nil,
	// the session answers with an empty value.
	OnInput func(wire.InputRequest)
}

func (c Callbacks) stream(v wire.Stream) {
	if c.OnStream != nil {
		c.OnStream(v)
	}
}

func (c Callbacks) display(v wire.DisplayData) {
	if c.OnDisplay != nil {
		c.OnDisplay(v)
	}
}

func (c Callbacks) updateDisplay(v wire.UpdateDisplayData) {
	if c.OnUpdateDisplay != nil {
		c.OnUpdateDisplay(v)
	}
}

func (c Callbacks) result(v wire.ExecuteResult) {
	if c.OnResult != nil {
		c.OnResult(v)
	}
}

func (c Callbacks) runtimeError(v wire.RuntimeError) {
	if c.OnError != nil {
		c.OnError(v)
	}
}

func (c Callbacks) clear(v wire.ClearOutput) {
	if c.OnClear != nil {
		c.OnClear(v)
	}
}

func (c Callbacks) executeInput(v wire.ExecuteInput) {
	if c.OnExecuteInput != nil {
		c.OnExecuteInput(v)
	}
}

func (c Callbacks) status(v wire.ExecutionState) {
	if c.OnStatus != nil {
		c.OnStatus(v)
	}
}

// Monitor receives session-wide events. Like Callbacks, all fields are
// optional and run on the run-loop goroutine.
type Monitor struct {
	// OnState receives lifecycle transitions.
	OnState func(State)

	// OnKernelStatus receives raw kernel execution-state broadcasts,
	// including parentless ones emitted during startup.
	OnKernelStatus func(wire.ExecutionState)

	// OnCommOpen receives comms the kernel opened. The comm's handler
	// was already supplied by the registered target factory.
	OnCommOpen func(*Comm)

	// OnDead fires when the kernel is lost unexpectedly, with the
	// cause. A deliberate Shutdown does not fire it.
	OnDead func(reason error)
}

func (m Monitor) state(v State) {
	if m.OnState != nil {
		m.OnState(v)
	}
}

func (m Monitor) kernelStatus(v wire.ExecutionState) {
	if m.OnKernelStatus != nil {
		m.OnKernelStatus(v)
	}
}

func (m Monitor) commOpen(c *Comm) {
	if m.OnCommOpen != nil {
		m.OnCommOpen(c)
	}
}

func (m Monitor) dead(reason error) {
	if m.OnDead != nil {
		m.OnDead(reason)
	}
}
