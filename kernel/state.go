// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

// State is the lifecycle state of a session.
type State int

const (
	// StateUnstarted means Start has not been called, or startup failed
	// and may be retried.
	StateUnstarted State = iota

	// StateStarting covers launch, dial, and the ready handshake.
	StateStarting

	// StateIdle means the kernel is ready and nothing is in flight.
	StateIdle

	// StateBusy means a request is in flight on the shell channel.
	StateBusy

	// StateRestarting covers teardown and relaunch during Restart.
	StateRestarting

	// StateDead means the kernel is gone. Restart is the only way out;
	// after Shutdown the session stays dead.
	StateDead
)

var stateNames = [...]string{
	StateUnstarted:  "unstarted",
	StateStarting:   "starting",
	StateIdle:       "idle",
	StateBusy:       "busy",
	StateRestarting: "restarting",
	StateDead:       "dead",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// Alive reports whether the kernel is connected and serving requests.
func (s State) Alive() bool {
	return s == StateIdle || s == StateBusy
}
