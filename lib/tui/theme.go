// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/thyone-project/thyone/kernel"
)

// Theme defines the color palette and visual properties for thyone's
// terminal UIs. All colors use lipgloss ANSI 256-color codes for
// broad terminal compatibility.
//
// The fields cover both universal chrome (text, selection, borders)
// and semantic categories that recur across views: kernel lifecycle
// states, output streams, execution results.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Kernel lifecycle states.
	StateStarting   lipgloss.Color
	StateIdle       lipgloss.Color
	StateBusy       lipgloss.Color
	StateRestarting lipgloss.Color
	StateDead       lipgloss.Color

	// Output streams and results.
	StdoutText  lipgloss.Color
	StderrText  lipgloss.Color
	ResultText  lipgloss.Color
	ErrorText   lipgloss.Color
	PromptText  lipgloss.Color // The In[n] prompt gutter.
	CounterText lipgloss.Color // Execution counters in prompts.

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Search and filter match highlighting.
	SearchHighlightBackground lipgloss.Color
	SearchCurrentBackground   lipgloss.Color

	// ChromaStyle names the chroma syntax highlighting style used for
	// code cells and markdown fences.
	ChromaStyle string
}

// StateColor returns the color for a kernel lifecycle state.
// Unknown or unstarted states render as FaintText.
func (theme Theme) StateColor(state kernel.State) lipgloss.Color {
	switch state {
	case kernel.StateStarting:
		return theme.StateStarting
	case kernel.StateIdle:
		return theme.StateIdle
	case kernel.StateBusy:
		return theme.StateBusy
	case kernel.StateRestarting:
		return theme.StateRestarting
	case kernel.StateDead:
		return theme.StateDead
	default:
		return theme.FaintText
	}
}

// Named returns the built-in theme for a name: "light" for LightTheme,
// anything else (including empty) for DefaultTheme.
func Named(name string) Theme {
	if name == "light" {
		return LightTheme
	}
	return DefaultTheme
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed for
// 256-color terminals with a dark background (the common case for
// development environments and tmux sessions).
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	StateStarting:   lipgloss.Color("220"), // yellow/amber
	StateIdle:       lipgloss.Color("114"), // green
	StateBusy:       lipgloss.Color("208"), // orange
	StateRestarting: lipgloss.Color("141"), // light purple
	StateDead:       lipgloss.Color("196"), // red

	StdoutText:  lipgloss.Color("252"),
	StderrText:  lipgloss.Color("203"), // soft red
	ResultText:  lipgloss.Color("252"),
	ErrorText:   lipgloss.Color("196"),
	PromptText:  lipgloss.Color("114"), // green, jupyter-style In[n]
	CounterText: lipgloss.Color("75"),  // blue

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	SearchHighlightBackground: lipgloss.Color("58"),  // dark amber
	SearchCurrentBackground:   lipgloss.Color("100"), // brighter amber for current match

	ChromaStyle: "monokai",
}

// LightTheme is the built-in light-terminal color scheme.
var LightTheme = Theme{
	NormalText: lipgloss.Color("235"),
	FaintText:  lipgloss.Color("243"),

	SelectedBackground: lipgloss.Color("254"),
	SelectedForeground: lipgloss.Color("232"),

	StateStarting:   lipgloss.Color("136"), // dark amber
	StateIdle:       lipgloss.Color("28"),  // green
	StateBusy:       lipgloss.Color("166"), // orange
	StateRestarting: lipgloss.Color("97"),  // purple
	StateDead:       lipgloss.Color("160"), // red

	StdoutText:  lipgloss.Color("235"),
	StderrText:  lipgloss.Color("160"),
	ResultText:  lipgloss.Color("235"),
	ErrorText:   lipgloss.Color("160"),
	PromptText:  lipgloss.Color("28"),
	CounterText: lipgloss.Color("26"),

	HeaderForeground: lipgloss.Color("232"),
	BorderColor:      lipgloss.Color("249"),
	HelpText:         lipgloss.Color("246"),

	SearchHighlightBackground: lipgloss.Color("228"),
	SearchCurrentBackground:   lipgloss.Color("220"),

	ChromaStyle: "tango",
}
