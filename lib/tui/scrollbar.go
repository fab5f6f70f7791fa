// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderScrollbar produces a single-column scrollbar for a viewport that
// shows height lines of totalLines of content, scrolled so that topLine is
// the first visible line. The thumb marks the visible window; it is pinned
// to the top and bottom ends so the reader can always tell when the first
// or last line is on screen. The thumb uses the accent color when focused
// and the track color when not.
//
// When the content fits in the viewport only the track is drawn: a thumb
// with nothing to scroll is noise in a document view.
func RenderScrollbar(theme Theme, height, totalLines, topLine int, focused bool) string {
	if height <= 0 {
		return ""
	}

	trackStyle := lipgloss.NewStyle().Foreground(theme.BorderColor)
	thumbStyle := trackStyle
	if focused {
		thumbStyle = lipgloss.NewStyle().Foreground(theme.CounterText)
	}
	track := trackStyle.Render("│")
	thumb := thumbStyle.Render("┃")

	var column strings.Builder
	writeRow := func(glyph string, row int) {
		if row > 0 {
			column.WriteByte('\n')
		}
		column.WriteString(glyph)
	}

	if totalLines <= height {
		for row := 0; row < height; row++ {
			writeRow(track, row)
		}
		return column.String()
	}

	// Thumb length follows the visible fraction, never below one row.
	thumbRows := height * height / totalLines
	if thumbRows < 1 {
		thumbRows = 1
	}

	// Place the thumb by the scrolled fraction, rounding to the nearest
	// row, then pin it: top line visible means thumb at the top, last
	// line visible means thumb at the bottom.
	scrollable := totalLines - height
	trackRows := height - thumbRows
	thumbTop := (topLine*trackRows + scrollable/2) / scrollable
	if topLine <= 0 {
		thumbTop = 0
	}
	if topLine >= scrollable {
		thumbTop = trackRows
	}

	for row := 0; row < height; row++ {
		if row >= thumbTop && row < thumbTop+thumbRows {
			writeRow(thumb, row)
		} else {
			writeRow(track, row)
		}
	}
	return column.String()
}
