// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebookui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/lib/tui"
)

// StatusInfo is everything the status bar shows.
type StatusInfo struct {
	KernelName     string
	Language       string
	State          kernel.State
	ExecutionCount int
	QueueDepth     int

	// Notice is a transient message (errors, checkpoint written). It
	// takes the space otherwise used by the key hint.
	Notice string
}

// RenderStatusBar renders the one-line bar under the transcript:
// state dot, kernel identity, execution counter, queue depth, and
// either a notice or the help hint.
func RenderStatusBar(info StatusInfo, theme tui.Theme, width int) string {
	renderer := ansiRenderer()

	dot := renderer.NewStyle().Foreground(theme.StateColor(info.State)).Render("●")
	state := renderer.NewStyle().Foreground(theme.StateColor(info.State)).Render(info.State.String())

	identity := info.KernelName
	if info.Language != "" && info.Language != info.KernelName {
		identity += " (" + info.Language + ")"
	}

	left := fmt.Sprintf("%s %s  %s", dot, state,
		renderer.NewStyle().Foreground(theme.NormalText).Render(identity))

	var right string
	switch {
	case info.Notice != "":
		right = renderer.NewStyle().Foreground(theme.StateStarting).Render(info.Notice)
	default:
		right = renderer.NewStyle().Foreground(theme.HelpText).Render("F1 help")
	}

	counters := fmt.Sprintf("In[%d]", info.ExecutionCount)
	if info.QueueDepth > 0 {
		counters += fmt.Sprintf("  +%d queued", info.QueueDepth)
	}
	middle := renderer.NewStyle().Foreground(theme.FaintText).Render(counters)

	// Lay out left-middle-right with the middle centered in the
	// remaining space left-biased.
	used := lipgloss.Width(left) + lipgloss.Width(middle) + lipgloss.Width(right)
	gap := width - used
	if gap < 2 {
		return ansi.Truncate(left+" "+middle+" "+right, width, "…")
	}
	leftGap := gap / 2
	return left + strings.Repeat(" ", leftGap) + middle + strings.Repeat(" ", gap-leftGap) + right
}
