// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebookui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/lib/tui"
	"github.com/thyone-project/thyone/notebook"
	"github.com/thyone-project/thyone/wire"
)

// Driver is what the console needs from the kernel side. The cmd
// layer implements it over a kernel.Session, delivering streaming
// events back into the program as the message types below. A fake
// driver stands in for tests.
type Driver interface {
	// Execute submits code. ExecQueuedMsg arrives when accepted,
	// ExecOutputMsg for each broadcast, ExecDoneMsg at the end.
	Execute(code string) tea.Cmd

	// IsComplete asks whether code is ready to run; answered by a
	// CompletenessMsg.
	IsComplete(code string) tea.Cmd

	// Complete requests tab completion; answered by a CompletionMsg.
	Complete(code string, cursor int) tea.Cmd

	// Inspect requests contextual help; answered by a NoticeMsg or
	// an InspectionMsg.
	Inspect(code string, cursor int) tea.Cmd

	// Interrupt stops the in-flight execution.
	Interrupt() tea.Cmd

	// Restart relaunches the kernel, preserving queued work.
	Restart() tea.Cmd

	// RespondStdin answers the pending input_request.
	RespondStdin(value string) tea.Cmd
}

// Messages from the kernel side, sent via Program.Send or returned
// from Driver commands.
type (
	// ExecQueuedMsg announces an accepted execution.
	ExecQueuedMsg struct {
		ID   string
		Code string
	}

	// ExecOutputMsg carries one broadcast belonging to an execution.
	ExecOutputMsg struct {
		ID      string
		Content wire.Content
	}

	// ExecDoneMsg announces an execution reaching a terminal state.
	ExecDoneMsg struct {
		ID  string
		Err error
	}

	// KernelStateMsg carries lifecycle transitions and queue depth.
	KernelStateMsg struct {
		State      kernel.State
		QueueDepth int
	}

	// KernelInfoMsg carries the kernel's identity for the status bar
	// and the highlight lexer.
	KernelInfoMsg struct {
		DisplayName string
		Language    string
		Banner      string
	}

	// KernelDeadMsg announces an unexpected kernel loss.
	KernelDeadMsg struct {
		Reason error
	}

	// StdinPromptMsg asks the user for a line of input.
	StdinPromptMsg struct {
		Prompt   string
		Password bool
	}

	// CompletenessMsg answers an IsComplete probe.
	CompletenessMsg struct {
		Code   string
		Status wire.Completeness
	}

	// CompletionMsg answers a Complete request.
	CompletionMsg struct {
		Matches    []string
		Start, End int
	}

	// InspectionMsg answers an Inspect request with rendered help.
	InspectionMsg struct {
		Found bool
		Text  string
	}

	// NoticeMsg puts a transient message in the status bar.
	NoticeMsg struct {
		Text string
	}

	// HistorySeedMsg preloads the input recall list with sources from
	// the persistent history store, oldest first.
	HistorySeedMsg struct {
		Sources []string
	}

	noticeFadeMsg struct{}
)

// noticeFadeDelay is how long a status bar notice stays visible.
const noticeFadeDelay = 4 * time.Second

// consoleEntry is one executed (or executing) request in the
// transcript. Outputs accumulate on the embedded cell exactly as they
// would in a notebook, so clear_output and display updates behave
// identically in both views.
type consoleEntry struct {
	id   string
	cell notebook.Cell
	done bool
	err  error
}

// ConsoleModel is the interactive console: a transcript viewport, a
// multi-line input, and a status bar, all fed by a Driver.
type ConsoleModel struct {
	driver Driver
	theme  tui.Theme
	keys   KeyMap
	cache  *RenderCache

	entries []consoleEntry
	byID    map[string]int

	viewport viewport.Model
	input    textarea.Model
	stdin    textinput.Model
	spin     spinner.Model

	stdinActive bool
	follow      bool
	ready       bool

	status   StatusInfo
	language string
	banner   string

	// Input history recall.
	history      []string
	historyIndex int
	draft        string

	width, height int
}

// NewConsole builds the console model. The driver connects it to a
// live session; info seeds the status bar before the kernel reports.
func NewConsole(driver Driver, kernelName string, theme tui.Theme) ConsoleModel {
	input := textarea.New()
	input.Prompt = ""
	input.Placeholder = ""
	input.ShowLineNumbers = false
	input.SetHeight(1)
	input.CharLimit = 0
	input.Focus()

	stdin := textinput.New()

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot

	return ConsoleModel{
		driver:       driver,
		theme:        theme,
		keys:         DefaultKeyMap,
		cache:        NewRenderCache(0),
		byID:         make(map[string]int),
		input:        input,
		stdin:        stdin,
		spin:         spin,
		follow:       true,
		historyIndex: -1,
		status:       StatusInfo{KernelName: kernelName},
	}
}

func (m ConsoleModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m ConsoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ExecQueuedMsg:
		cell := notebook.NewCell(notebook.CellCode)
		cell.Source = msg.Code
		m.byID[msg.ID] = len(m.entries)
		m.entries = append(m.entries, consoleEntry{id: msg.ID, cell: cell})
		m.refreshTranscript()
		return m, nil

	case ExecOutputMsg:
		if index, ok := m.byID[msg.ID]; ok {
			m.entries[index].cell.ApplyMessage(msg.Content)
			if count := m.entries[index].cell.ExecutionCount; count > m.status.ExecutionCount {
				m.status.ExecutionCount = count
			}
			m.refreshTranscript()
		}
		return m, nil

	case ExecDoneMsg:
		if index, ok := m.byID[msg.ID]; ok {
			m.entries[index].done = true
			m.entries[index].err = msg.Err
			m.refreshTranscript()
		}
		if msg.Err != nil {
			return m.notice(msg.Err.Error())
		}
		return m, nil

	case KernelStateMsg:
		wasIdle := !m.busy()
		m.status.State = msg.State
		m.status.QueueDepth = msg.QueueDepth
		if wasIdle && m.busy() {
			return m, m.spin.Tick
		}
		return m, nil

	case HistorySeedMsg:
		// Anything typed this session stays newer than the seed.
		m.history = append(append([]string(nil), msg.Sources...), m.history...)
		if m.historyIndex >= 0 {
			m.historyIndex += len(msg.Sources)
		}
		return m, nil

	case KernelInfoMsg:
		m.status.KernelName = msg.DisplayName
		m.status.Language = msg.Language
		m.language = msg.Language
		m.banner = msg.Banner
		m.refreshTranscript()
		return m, nil

	case KernelDeadMsg:
		m.status.State = kernel.StateDead
		return m.notice("kernel died: " + msg.Reason.Error())

	case StdinPromptMsg:
		m.stdinActive = true
		m.stdin.SetValue("")
		m.stdin.Prompt = msg.Prompt
		if msg.Password {
			m.stdin.EchoMode = textinput.EchoPassword
		} else {
			m.stdin.EchoMode = textinput.EchoNormal
		}
		m.stdin.Focus()
		m.input.Blur()
		return m, textinput.Blink

	case CompletenessMsg:
		// Only act if the probe still matches the input; the user may
		// have kept typing.
		if msg.Code != m.input.Value() {
			return m, nil
		}
		if msg.Status == wire.CodeIncomplete {
			m.input.InsertString("\n")
			m.growInput()
			return m, nil
		}
		return m.submit(msg.Code)

	case CompletionMsg:
		return m.applyCompletion(msg)

	case InspectionMsg:
		if !msg.Found {
			return m.notice("no help available")
		}
		// Inspection text joins the transcript as a detached entry so
		// long docstrings scroll instead of flashing in the bar.
		cell := notebook.NewCell(notebook.CellRaw)
		cell.Source = msg.Text
		m.entries = append(m.entries, consoleEntry{cell: cell, done: true})
		m.refreshTranscript()
		return m, nil

	case NoticeMsg:
		return m.notice(msg.Text)

	case noticeFadeMsg:
		m.status.Notice = ""
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m.routeInput(msg)
}

func (m ConsoleModel) busy() bool {
	return m.status.State == kernel.StateBusy || m.status.State == kernel.StateStarting ||
		m.status.State == kernel.StateRestarting
}

func (m ConsoleModel) notice(text string) (tea.Model, tea.Cmd) {
	m.status.Notice = text
	return m, tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg { return noticeFadeMsg{} })
}

func (m ConsoleModel) resize(msg tea.WindowSizeMsg) ConsoleModel {
	m.width, m.height = msg.Width, msg.Height

	inputHeight := m.input.Height()
	transcriptHeight := m.height - inputHeight - 2 // input + status bar + prompt line
	if transcriptHeight < 1 {
		transcriptHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(m.width, transcriptHeight)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = transcriptHeight
	}
	m.input.SetWidth(m.width - promptGutterWidth)
	m.stdin.Width = m.width - promptGutterWidth
	m.refreshTranscript()
	return m
}

// promptGutterWidth is the fixed width reserved for the In[n]: label
// to the left of the input.
const promptGutterWidth = 9

func (m *ConsoleModel) growInput() {
	lines := m.input.LineCount()
	if lines > 8 {
		lines = 8
	}
	if lines < 1 {
		lines = 1
	}
	if lines != m.input.Height() {
		m.input.SetHeight(lines)
		if m.ready {
			transcriptHeight := m.height - lines - 2
			if transcriptHeight < 1 {
				transcriptHeight = 1
			}
			m.viewport.Height = transcriptHeight
		}
	}
}

func (m ConsoleModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.stdinActive {
		switch {
		case key.Matches(msg, m.keys.Submit):
			value := m.stdin.Value()
			m.stdinActive = false
			m.stdin.Blur()
			m.input.Focus()
			return m, m.driver.RespondStdin(value)
		case key.Matches(msg, m.keys.Interrupt):
			m.stdinActive = false
			m.stdin.Blur()
			m.input.Focus()
			return m, tea.Batch(m.driver.RespondStdin(""), m.driver.Interrupt())
		}
		var cmd tea.Cmd
		m.stdin, cmd = m.stdin.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.input.Value() == "" {
			return m, tea.Quit
		}

	case key.Matches(msg, m.keys.Interrupt):
		if m.busy() && m.input.Value() == "" {
			return m, m.driver.Interrupt()
		}
		m.input.Reset()
		m.input.SetHeight(1)
		m.historyIndex = -1
		return m, nil

	case key.Matches(msg, m.keys.Restart):
		return m, m.driver.Restart()

	case key.Matches(msg, m.keys.Submit):
		code := m.input.Value()
		if strings.TrimSpace(code) == "" {
			return m, nil
		}
		return m, m.driver.IsComplete(code)

	case key.Matches(msg, m.keys.Complete):
		code := m.input.Value()
		if strings.TrimSpace(code) == "" {
			break // Plain tab in empty input: indent.
		}
		return m, m.driver.Complete(code, m.cursorOffset())

	case key.Matches(msg, m.keys.Inspect):
		code := m.input.Value()
		if strings.TrimSpace(code) != "" {
			return m, m.driver.Inspect(code, m.cursorOffset())
		}
		return m, nil

	case key.Matches(msg, m.keys.HistoryPrev):
		if m.input.Line() == 0 {
			return m.recallHistory(-1), nil
		}

	case key.Matches(msg, m.keys.HistoryNext):
		if m.input.Line() == m.input.LineCount()-1 && m.historyIndex >= 0 {
			return m.recallHistory(1), nil
		}

	case key.Matches(msg, m.keys.ScrollUp):
		m.follow = false
		m.viewport.LineUp(1)
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.viewport.LineDown(1)
		m.follow = m.viewport.AtBottom()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.follow = false
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		m.follow = m.viewport.AtBottom()
		return m, nil
	}

	return m.routeInput(msg)
}

func (m ConsoleModel) routeInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.growInput()
	return m, cmd
}

// cursorOffset converts the textarea's (line, column) cursor into a
// rune offset into the whole input, which is what completion and
// inspection requests carry.
func (m ConsoleModel) cursorOffset() int {
	lines := strings.Split(m.input.Value(), "\n")
	offset := 0
	for index := 0; index < m.input.Line() && index < len(lines); index++ {
		offset += len([]rune(lines[index])) + 1
	}
	return offset + m.input.LineInfo().ColumnOffset
}

func (m ConsoleModel) submit(code string) (tea.Model, tea.Cmd) {
	m.history = append(m.history, code)
	m.historyIndex = -1
	m.draft = ""
	m.input.Reset()
	m.input.SetHeight(1)
	m.follow = true
	return m, m.driver.Execute(code)
}

// recallHistory steps through past inputs: direction -1 goes back,
// +1 forward. The in-progress draft is parked and restored when the
// user returns past the newest entry.
func (m ConsoleModel) recallHistory(direction int) ConsoleModel {
	if len(m.history) == 0 {
		return m
	}
	if m.historyIndex == -1 {
		if direction > 0 {
			return m
		}
		m.draft = m.input.Value()
		m.historyIndex = len(m.history) - 1
	} else {
		m.historyIndex += direction
	}

	if m.historyIndex >= len(m.history) {
		m.historyIndex = -1
		m.input.SetValue(m.draft)
	} else {
		if m.historyIndex < 0 {
			m.historyIndex = 0
		}
		m.input.SetValue(m.history[m.historyIndex])
	}
	m.input.CursorEnd()
	m.growInput()
	return m
}

func (m ConsoleModel) applyCompletion(msg CompletionMsg) (tea.Model, tea.Cmd) {
	switch len(msg.Matches) {
	case 0:
		return m.notice("no completions")
	case 1:
		code := []rune(m.input.Value())
		if msg.Start < 0 || msg.End > len(code) || msg.Start > msg.End {
			return m, nil
		}
		replaced := string(code[:msg.Start]) + msg.Matches[0] + string(code[msg.End:])
		m.input.SetValue(replaced)
		m.input.CursorEnd()
		return m, nil
	default:
		shown := msg.Matches
		if len(shown) > 8 {
			shown = append(shown[:8:8], fmt.Sprintf("… %d more", len(msg.Matches)-8))
		}
		return m.notice(strings.Join(shown, "  "))
	}
}

// refreshTranscript re-renders every entry into the viewport. Entry
// rendering is memoized, so a refresh costs one cache probe per
// unchanged entry.
func (m *ConsoleModel) refreshTranscript() {
	if !m.ready {
		return
	}
	width := m.viewport.Width
	var blocks []string
	if m.banner != "" {
		blocks = append(blocks, faintStyle(m.theme).Render(strings.TrimSpace(m.banner)))
	}
	for index := range m.entries {
		entry := &m.entries[index]
		blocks = append(blocks, m.renderEntry(entry, width))
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *ConsoleModel) renderEntry(entry *consoleEntry, width int) string {
	if entry.cell.Type == notebook.CellRaw {
		return m.cache.Rendered("inspect", entry.cell.Source, width, m.theme.ChromaStyle, func() string {
			return strings.TrimRight(entry.cell.Source, "\n")
		})
	}

	var parts []string
	prompt := RenderPrompt("In", entry.cell.ExecutionCount, m.theme)
	source := m.cache.Rendered("source:"+m.language, entry.cell.Source, width, m.theme.ChromaStyle, func() string {
		return HighlightSource(strings.TrimRight(entry.cell.Source, "\n"), m.language, m.theme)
	})
	parts = append(parts, prompt+" "+source)

	for _, output := range entry.cell.Outputs {
		rendered := m.renderOutput(output, width)
		if rendered == "" {
			continue
		}
		if output.Type == notebook.OutputExecuteResult {
			rendered = RenderPrompt("Out", output.ExecutionCount, m.theme) + " " + rendered
		}
		parts = append(parts, rendered)
	}
	if entry.err != nil {
		style := ansiRenderer().NewStyle().Foreground(m.theme.ErrorText)
		parts = append(parts, style.Render(entry.err.Error()))
	}
	return strings.Join(parts, "\n")
}

func (m *ConsoleModel) renderOutput(output notebook.Output, width int) string {
	kind := "output:" + string(output.Type) + ":" + output.StreamName
	content := output.Text
	if content == "" {
		content = fmt.Sprintf("%v%s%s", output.Data, output.ErrorName, strings.Join(output.Traceback, "\n"))
	}
	return m.cache.Rendered(kind, content, width, m.theme.ChromaStyle, func() string {
		return RenderOutput(output, m.theme, width)
	})
}

func (m ConsoleModel) View() string {
	if !m.ready {
		return "starting…"
	}

	var view strings.Builder
	view.WriteString(m.viewport.View())
	view.WriteString("\n")

	if m.stdinActive {
		view.WriteString(m.stdin.View())
	} else {
		prompt := RenderPrompt("In", m.status.ExecutionCount+1, m.theme)
		if m.busy() {
			prompt = m.spin.View() + " " + prompt
		}
		view.WriteString(prompt + " " + m.input.View())
	}
	view.WriteString("\n")

	view.WriteString(RenderStatusBar(m.status, m.theme, m.width))
	return view.String()
}
