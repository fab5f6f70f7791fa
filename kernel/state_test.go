// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import "testing"

func TestStateString(t *testing.T) {
	t.Parallel()
	cases := []struct {
		state State
		want  string
	}{
		{StateUnstarted, "unstarted"},
		{StateStarting, "starting"},
		{StateIdle, "idle"},
		{StateBusy, "busy"},
		{StateRestarting, "restarting"},
		{StateDead, "dead"},
		{State(99), "invalid"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tc.state), got, tc.want)
		}
	}
}

func TestStateAlive(t *testing.T) {
	t.Parallel()
	for _, state := range []State{StateIdle, StateBusy} {
		if !state.Alive() {
			t.Errorf("%s.Alive() = false, want true", state)
		}
	}
	for _, state := range []State{StateUnstarted, StateStarting, StateRestarting, StateDead} {
		if state.Alive() {
			t.Errorf("%s.Alive() = true, want false", state)
		}
	}
}
