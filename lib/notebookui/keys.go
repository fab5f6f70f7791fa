// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebookui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings shared by the console and notebook
// views.
type KeyMap struct {
	// Transcript / cell list scrolling.
	ScrollUp   key.Binding
	ScrollDown key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
	Top        key.Binding
	Bottom     key.Binding

	// Input line.
	Submit      key.Binding
	HistoryPrev key.Binding
	HistoryNext key.Binding
	Complete    key.Binding
	Inspect     key.Binding

	// Kernel control.
	Interrupt key.Binding
	Restart   key.Binding

	// Notebook view.
	RunCell    key.Binding
	NextCell   key.Binding
	PrevCell   key.Binding
	Checkpoint key.Binding

	// Picker.
	PickerAccept key.Binding
	PickerCancel key.Binding

	Help key.Binding
	Quit key.Binding
}

// DefaultKeyMap is the built-in binding set. Readline-flavored input
// keys with vim-style scrolling on the transcript.
var DefaultKeyMap = KeyMap{
	ScrollUp: key.NewBinding(
		key.WithKeys("ctrl+p", "shift+up"),
		key.WithHelp("S-↑", "scroll up"),
	),
	ScrollDown: key.NewBinding(
		key.WithKeys("ctrl+n", "shift+down"),
		key.WithHelp("S-↓", "scroll down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup", "ctrl+u"),
		key.WithHelp("C-u", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown", "ctrl+f"),
		key.WithHelp("C-f", "page down"),
	),
	Top: key.NewBinding(
		key.WithKeys("home"),
		key.WithHelp("home", "top"),
	),
	Bottom: key.NewBinding(
		key.WithKeys("end"),
		key.WithHelp("end", "bottom"),
	),

	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "run"),
	),
	HistoryPrev: key.NewBinding(
		key.WithKeys("up"),
		key.WithHelp("↑", "previous input"),
	),
	HistoryNext: key.NewBinding(
		key.WithKeys("down"),
		key.WithHelp("↓", "next input"),
	),
	Complete: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "complete"),
	),
	Inspect: key.NewBinding(
		key.WithKeys("ctrl+q"),
		key.WithHelp("C-q", "inspect"),
	),

	Interrupt: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("C-c", "interrupt"),
	),
	Restart: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("C-r", "restart kernel"),
	),

	RunCell: key.NewBinding(
		key.WithKeys("ctrl+enter", "ctrl+j"),
		key.WithHelp("C-enter", "run cell"),
	),
	NextCell: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "next cell"),
	),
	PrevCell: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "previous cell"),
	),
	Checkpoint: key.NewBinding(
		key.WithKeys("ctrl+s"),
		key.WithHelp("C-s", "checkpoint"),
	),

	PickerAccept: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	),
	PickerCancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel"),
	),

	Help: key.NewBinding(
		key.WithKeys("f1"),
		key.WithHelp("F1", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+d"),
		key.WithHelp("C-d", "quit"),
	),
}
