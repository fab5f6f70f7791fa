// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebookui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/junegunn/fzf/src/util"

	"github.com/thyone-project/thyone/lib/tui"
)

// PickerItem is one selectable kernel in the picker.
type PickerItem struct {
	// Name is the kernelspec directory name, what --kernel accepts.
	Name string
	// DisplayName is the human-readable kernelspec title.
	DisplayName string
	// Language is the kernelspec language tag.
	Language string
}

type pickerMatch struct {
	item      PickerItem
	score     int
	positions []int
}

// PickerModel is a fuzzy-filtered kernel chooser. It runs as a
// standalone bubbletea program before the console starts: type to
// narrow, enter accepts, escape cancels.
type PickerModel struct {
	items   []PickerItem
	matches []pickerMatch
	cursor  int
	input   textinput.Model
	theme   tui.Theme
	keys    KeyMap
	slab    *util.Slab
	height  int

	// Choice is set when the user accepts; Canceled when they back
	// out. Exactly one of them ends the program.
	Choice   *PickerItem
	Canceled bool
}

// NewPicker builds a picker over the given kernels.
func NewPicker(items []PickerItem, theme tui.Theme) PickerModel {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "kernel name"
	input.Focus()

	model := PickerModel{
		items:  items,
		input:  input,
		theme:  theme,
		keys:   DefaultKeyMap,
		slab:   util.MakeSlab(100*1024, 2048),
		height: 10,
	}
	model.refilter()
	return model
}

func (m PickerModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m PickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height - 3
		if m.height < 3 {
			m.height = 3
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.PickerCancel), key.Matches(msg, m.keys.Interrupt):
			m.Canceled = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.PickerAccept):
			if m.cursor < len(m.matches) {
				choice := m.matches[m.cursor].item
				m.Choice = &choice
				return m, tea.Quit
			}
			return m, nil

		case key.Matches(msg, m.keys.HistoryPrev):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case key.Matches(msg, m.keys.HistoryNext):
			if m.cursor < len(m.matches)-1 {
				m.cursor++
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	before := m.input.Value()
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.refilter()
	}
	return m, cmd
}

// refilter recomputes the match list for the current query. An empty
// query keeps the original order; otherwise matches sort by fzf score
// descending with name order as the tiebreak.
func (m *PickerModel) refilter() {
	query := []rune(m.input.Value())
	m.matches = m.matches[:0]

	for _, item := range m.items {
		if len(query) == 0 {
			m.matches = append(m.matches, pickerMatch{item: item})
			continue
		}
		result := tui.FuzzyMatch(item.DisplayName, query, m.slab)
		if result.Score == 0 {
			// Fall back to the spec name so "py3" finds python3 even
			// when the display name says something else.
			if nameResult := tui.FuzzyMatch(item.Name, query, m.slab); nameResult.Score > 0 {
				m.matches = append(m.matches, pickerMatch{item: item, score: nameResult.Score})
			}
			continue
		}
		m.matches = append(m.matches, pickerMatch{
			item:      item,
			score:     result.Score,
			positions: result.Positions,
		})
	}

	if len(query) > 0 {
		slices.SortStableFunc(m.matches, func(a, b pickerMatch) int {
			return b.score - a.score
		})
	}
	if m.cursor >= len(m.matches) {
		m.cursor = 0
	}
}

func (m PickerModel) View() string {
	renderer := ansiRenderer()
	var view strings.Builder

	header := renderer.NewStyle().Foreground(m.theme.HeaderForeground).Bold(true)
	view.WriteString(header.Render("Select a kernel"))
	view.WriteString("\n")
	view.WriteString(m.input.View())
	view.WriteString("\n")

	visible := m.matches
	if len(visible) > m.height {
		visible = visible[:m.height]
	}
	for index, match := range visible {
		line := m.renderItem(match, index == m.cursor)
		view.WriteString(line)
		view.WriteString("\n")
	}
	if len(m.matches) == 0 {
		faint := renderer.NewStyle().Foreground(m.theme.FaintText)
		view.WriteString(faint.Render("  no matching kernels"))
		view.WriteString("\n")
	}

	help := renderer.NewStyle().Foreground(m.theme.HelpText)
	view.WriteString(help.Render("↑/↓ move · enter select · esc cancel"))
	return view.String()
}

func (m PickerModel) renderItem(match pickerMatch, selected bool) string {
	renderer := ansiRenderer()
	name := highlightPositions(match.item.DisplayName, match.positions, m.theme)
	detail := renderer.NewStyle().Foreground(m.theme.FaintText).
		Render(fmt.Sprintf("(%s, %s)", match.item.Name, match.item.Language))

	line := "  " + name + " " + detail
	if selected {
		marker := renderer.NewStyle().Foreground(m.theme.CounterText).Render("▸")
		line = marker + " " + name + " " + detail
	}
	return line
}

// highlightPositions repaints the matched rune positions with the
// search highlight background.
func highlightPositions(text string, positions []int, theme tui.Theme) string {
	if len(positions) == 0 {
		return text
	}
	matched := make(map[int]bool, len(positions))
	for _, position := range positions {
		matched[position] = true
	}

	renderer := ansiRenderer()
	plain := renderer.NewStyle().Foreground(theme.NormalText)
	hit := renderer.NewStyle().
		Foreground(theme.NormalText).
		Background(theme.SearchHighlightBackground)

	var out strings.Builder
	for index, r := range []rune(text) {
		if matched[index] {
			out.WriteString(hit.Render(string(r)))
		} else {
			out.WriteString(plain.Render(string(r)))
		}
	}
	return out.String()
}
