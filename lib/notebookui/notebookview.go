// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebookui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/lib/tui"
	"github.com/thyone-project/thyone/notebook"
)

// CheckpointFunc saves the notebook and returns a short description
// for the status bar, such as the checkpoint filename.
type CheckpointFunc func(nb *notebook.Notebook) (string, error)

// NotebookModel is the cell-list view over an open notebook: navigate
// cells, run them against the session, checkpoint the document.
type NotebookModel struct {
	driver     Driver
	checkpoint CheckpointFunc
	theme      tui.Theme
	keys       KeyMap
	cache      *RenderCache

	nb     *notebook.Notebook
	cursor int

	// Executions are associated with cells in submission order: the
	// run key pushes the cell ID, ExecQueuedMsg pops it.
	pendingCells []string
	runningCells map[string]string // execution ID -> cell ID

	viewport viewport.Model
	ready    bool

	status   StatusInfo
	language string
	dirty    bool

	width, height int
}

// NewNotebookView builds the model over an already-loaded notebook.
func NewNotebookView(nb *notebook.Notebook, driver Driver, checkpoint CheckpointFunc, kernelName string, theme tui.Theme) NotebookModel {
	return NotebookModel{
		driver:       driver,
		checkpoint:   checkpoint,
		theme:        theme,
		keys:         DefaultKeyMap,
		cache:        NewRenderCache(0),
		nb:           nb,
		runningCells: make(map[string]string),
		status:       StatusInfo{KernelName: kernelName},
	}
}

// Notebook exposes the document, letting the cmd layer write it back
// out after the program exits.
func (m NotebookModel) Notebook() *notebook.Notebook { return m.nb }

// Dirty reports whether any cell changed since the last checkpoint.
func (m NotebookModel) Dirty() bool { return m.dirty }

func (m NotebookModel) Init() tea.Cmd {
	return nil
}

func (m NotebookModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		// One column on the right belongs to the scrollbar.
		if !m.ready {
			m.viewport = viewport.New(m.width-1, m.height-1)
			m.ready = true
		} else {
			m.viewport.Width = m.width - 1
			m.viewport.Height = m.height - 1
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ExecQueuedMsg:
		if len(m.pendingCells) > 0 {
			cellID := m.pendingCells[0]
			m.pendingCells = m.pendingCells[1:]
			m.runningCells[msg.ID] = cellID
			if cell := m.nb.CellByID(cellID); cell != nil {
				cell.ResetOutputs()
			}
			m.refresh()
		}
		return m, nil

	case ExecOutputMsg:
		if cellID, ok := m.runningCells[msg.ID]; ok {
			if cell := m.nb.CellByID(cellID); cell != nil {
				cell.ApplyMessage(msg.Content)
				if cell.ExecutionCount > m.status.ExecutionCount {
					m.status.ExecutionCount = cell.ExecutionCount
				}
				m.dirty = true
				m.refresh()
			}
		}
		return m, nil

	case ExecDoneMsg:
		delete(m.runningCells, msg.ID)
		if msg.Err != nil {
			return m.notice(msg.Err.Error())
		}
		return m, nil

	case KernelStateMsg:
		m.status.State = msg.State
		m.status.QueueDepth = msg.QueueDepth
		return m, nil

	case KernelInfoMsg:
		m.status.KernelName = msg.DisplayName
		m.status.Language = msg.Language
		m.language = msg.Language
		m.refresh()
		return m, nil

	case KernelDeadMsg:
		m.status.State = kernel.StateDead
		return m.notice("kernel died: " + msg.Reason.Error())

	case NoticeMsg:
		return m.notice(msg.Text)

	case noticeFadeMsg:
		m.status.Notice = ""
		return m, nil
	}

	return m, nil
}

func (m NotebookModel) notice(text string) (tea.Model, tea.Cmd) {
	m.status.Notice = text
	return m, fadeNotice()
}

func fadeNotice() tea.Cmd {
	return tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg { return noticeFadeMsg{} })
}

func (m NotebookModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.NextCell):
		if m.cursor < len(m.nb.Cells)-1 {
			m.cursor++
			m.refresh()
		}
		return m, nil

	case key.Matches(msg, m.keys.PrevCell):
		if m.cursor > 0 {
			m.cursor--
			m.refresh()
		}
		return m, nil

	case key.Matches(msg, m.keys.Top):
		m.cursor = 0
		m.refresh()
		m.viewport.GotoTop()
		return m, nil

	case key.Matches(msg, m.keys.Bottom):
		if len(m.nb.Cells) > 0 {
			m.cursor = len(m.nb.Cells) - 1
		}
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.RunCell):
		return m.runCurrentCell()

	case key.Matches(msg, m.keys.Interrupt):
		return m, m.driver.Interrupt()

	case key.Matches(msg, m.keys.Restart):
		return m, m.driver.Restart()

	case key.Matches(msg, m.keys.Checkpoint):
		if m.checkpoint == nil {
			return m, nil
		}
		name, err := m.checkpoint(m.nb)
		if err != nil {
			return m.notice("checkpoint failed: " + err.Error())
		}
		m.dirty = false
		return m.notice("checkpoint " + name)
	}

	return m, nil
}

func (m NotebookModel) runCurrentCell() (tea.Model, tea.Cmd) {
	if m.cursor >= len(m.nb.Cells) {
		return m, nil
	}
	cell := &m.nb.Cells[m.cursor]
	if cell.Type != notebook.CellCode || strings.TrimSpace(cell.Source) == "" {
		return m, nil
	}
	m.pendingCells = append(m.pendingCells, cell.ID)
	m.dirty = true
	if m.cursor < len(m.nb.Cells)-1 {
		m.cursor++
	}
	return m, m.driver.Execute(cell.Source)
}

// refresh re-renders the cell list into the viewport.
func (m *NotebookModel) refresh() {
	if !m.ready {
		return
	}
	width := m.viewport.Width - 2 // Cursor gutter.
	renderer := ansiRenderer()
	marker := renderer.NewStyle().Foreground(m.theme.CounterText).Render("▌")

	var blocks []string
	for index := range m.nb.Cells {
		cell := m.nb.Cells[index]
		body := m.cache.Rendered(
			"cell:"+string(cell.Type)+":"+m.language,
			cellCacheContent(cell),
			width,
			m.theme.ChromaStyle,
			func() string { return RenderCell(cell, m.language, m.theme, width) },
		)
		gutter := "  "
		if index == m.cursor {
			gutter = marker + " "
		}
		lines := strings.Split(body, "\n")
		for i, line := range lines {
			lines[i] = gutter + line
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
}

// cellCacheContent folds everything that affects a cell's rendering
// into one cache key string: source, counter, and outputs.
func cellCacheContent(cell notebook.Cell) string {
	var content strings.Builder
	content.WriteString(cell.Source)
	fmt.Fprintf(&content, "\x00%d", cell.ExecutionCount)
	for _, output := range cell.Outputs {
		fmt.Fprintf(&content, "\x00%s\x00%s\x00%v\x00%s\x00%s",
			output.Type, output.Text, output.Data, output.ErrorName, strings.Join(output.Traceback, "\n"))
	}
	return content.String()
}

func (m NotebookModel) View() string {
	if !m.ready {
		return "loading…"
	}
	scrollbar := tui.RenderScrollbar(m.theme,
		m.viewport.Height,
		m.viewport.TotalLineCount(),
		m.viewport.YOffset,
		true,
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.viewport.View(), scrollbar)
	return body + "\n" + RenderStatusBar(m.status, m.theme, m.width)
}
