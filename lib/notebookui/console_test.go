// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebookui

import (
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/lib/tui"
	"github.com/thyone-project/thyone/wire"
)

// fakeDriver records which driver calls the model made. Each method
// returns a nil command; tests feed the reply messages directly.
type fakeDriver struct {
	executed    []string
	probed      []string
	completed   []string
	inspected   []string
	interrupts  int
	restarts    int
	stdinValues []string
}

func (d *fakeDriver) Execute(code string) tea.Cmd {
	d.executed = append(d.executed, code)
	return nil
}

func (d *fakeDriver) IsComplete(code string) tea.Cmd {
	d.probed = append(d.probed, code)
	return nil
}

func (d *fakeDriver) Complete(code string, cursor int) tea.Cmd {
	d.completed = append(d.completed, code)
	return nil
}

func (d *fakeDriver) Inspect(code string, cursor int) tea.Cmd {
	d.inspected = append(d.inspected, code)
	return nil
}

func (d *fakeDriver) Interrupt() tea.Cmd {
	d.interrupts++
	return nil
}

func (d *fakeDriver) Restart() tea.Cmd {
	d.restarts++
	return nil
}

func (d *fakeDriver) RespondStdin(value string) tea.Cmd {
	d.stdinValues = append(d.stdinValues, value)
	return nil
}

func newTestConsole(driver *fakeDriver) ConsoleModel {
	model := NewConsole(driver, "python3", tui.DefaultTheme)
	updated, _ := model.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(ConsoleModel)
}

func update(t *testing.T, model ConsoleModel, msg tea.Msg) ConsoleModel {
	t.Helper()
	updated, _ := model.Update(msg)
	return updated.(ConsoleModel)
}

func typeRunes(t *testing.T, model ConsoleModel, text string) ConsoleModel {
	t.Helper()
	for _, r := range text {
		model = update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return model
}

func TestConsoleSubmitProbesCompleteness(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)
	model = typeRunes(t, model, "1 + 1")

	model = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	if len(driver.probed) != 1 || driver.probed[0] != "1 + 1" {
		t.Fatalf("probed = %v, want [\"1 + 1\"]", driver.probed)
	}
	if len(driver.executed) != 0 {
		t.Errorf("executed before completeness reply: %v", driver.executed)
	}

	model = update(t, model, CompletenessMsg{Code: "1 + 1", Status: wire.CodeComplete})
	if len(driver.executed) != 1 || driver.executed[0] != "1 + 1" {
		t.Errorf("executed = %v, want [\"1 + 1\"]", driver.executed)
	}
	if got := model.input.Value(); got != "" {
		t.Errorf("input not cleared after submit: %q", got)
	}
}

func TestConsoleIncompleteCodeContinues(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)
	model = typeRunes(t, model, "for x in y:")

	model = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	model = update(t, model, CompletenessMsg{Code: "for x in y:", Status: wire.CodeIncomplete})

	if len(driver.executed) != 0 {
		t.Errorf("incomplete code executed: %v", driver.executed)
	}
	if got := model.input.Value(); got != "for x in y:\n" {
		t.Errorf("input = %q, want continuation newline", got)
	}
}

func TestConsoleStaleCompletenessIgnored(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)
	model = typeRunes(t, model, "x = 2")

	// Reply for an older probe must not submit the current input.
	model = update(t, model, CompletenessMsg{Code: "x = 1", Status: wire.CodeComplete})
	if len(driver.executed) != 0 {
		t.Errorf("stale completeness reply executed code: %v", driver.executed)
	}
	if got := model.input.Value(); got != "x = 2" {
		t.Errorf("input = %q, want unchanged", got)
	}
}

func TestConsoleEmptySubmitIgnored(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	if len(driver.probed) != 0 {
		t.Errorf("blank input probed: %v", driver.probed)
	}
}

func TestConsoleTranscriptAccumulates(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	model = update(t, model, ExecQueuedMsg{ID: "e1", Code: "print('hi')"})
	model = update(t, model, ExecOutputMsg{ID: "e1", Content: wire.ExecuteInput{Code: "print('hi')", ExecutionCount: 1}})
	model = update(t, model, ExecOutputMsg{ID: "e1", Content: wire.Stream{Name: "stdout", Text: "hi\n"}})
	model = update(t, model, ExecDoneMsg{ID: "e1"})

	view := ansi.Strip(model.View())
	if !strings.Contains(view, "print('hi')") {
		t.Errorf("transcript missing source:\n%s", view)
	}
	if !strings.Contains(view, "hi") {
		t.Errorf("transcript missing stream output:\n%s", view)
	}
	if model.status.ExecutionCount != 1 {
		t.Errorf("ExecutionCount = %d, want 1", model.status.ExecutionCount)
	}
}

func TestConsoleExecErrorNoticed(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	model = update(t, model, ExecQueuedMsg{ID: "e1", Code: "boom"})
	model = update(t, model, ExecDoneMsg{ID: "e1", Err: errors.New("execution aborted")})

	if got := model.status.Notice; got != "execution aborted" {
		t.Errorf("Notice = %q, want %q", got, "execution aborted")
	}
}

func TestConsoleHistoryRecall(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	for _, code := range []string{"first", "second"} {
		model = typeRunes(t, model, code)
		model = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
		model = update(t, model, CompletenessMsg{Code: code, Status: wire.CodeComplete})
	}

	model = typeRunes(t, model, "draft text")
	model = update(t, model, tea.KeyMsg{Type: tea.KeyUp})
	if got := model.input.Value(); got != "second" {
		t.Errorf("first recall = %q, want %q", got, "second")
	}
	model = update(t, model, tea.KeyMsg{Type: tea.KeyUp})
	if got := model.input.Value(); got != "first" {
		t.Errorf("second recall = %q, want %q", got, "first")
	}
	model = update(t, model, tea.KeyMsg{Type: tea.KeyDown})
	model = update(t, model, tea.KeyMsg{Type: tea.KeyDown})
	if got := model.input.Value(); got != "draft text" {
		t.Errorf("draft not restored, got %q", got)
	}
}

func TestConsoleHistorySeedStaysOlderThanSession(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	code := "typed now"
	model = typeRunes(t, model, code)
	model = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	model = update(t, model, CompletenessMsg{Code: code, Status: wire.CodeComplete})

	model = update(t, model, HistorySeedMsg{Sources: []string{"old one", "old two"}})

	model = update(t, model, tea.KeyMsg{Type: tea.KeyUp})
	if got := model.input.Value(); got != "typed now" {
		t.Errorf("first recall = %q, want %q", got, "typed now")
	}
	model = update(t, model, tea.KeyMsg{Type: tea.KeyUp})
	if got := model.input.Value(); got != "old two" {
		t.Errorf("second recall = %q, want %q", got, "old two")
	}
	model = update(t, model, tea.KeyMsg{Type: tea.KeyUp})
	if got := model.input.Value(); got != "old one" {
		t.Errorf("third recall = %q, want %q", got, "old one")
	}
}

func TestConsoleInterruptWhenBusy(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)
	model = update(t, model, KernelStateMsg{State: kernel.StateBusy})

	update(t, model, tea.KeyMsg{Type: tea.KeyCtrlC})
	if driver.interrupts != 1 {
		t.Errorf("interrupts = %d, want 1", driver.interrupts)
	}
}

func TestConsoleCtrlCClearsInput(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)
	model = typeRunes(t, model, "half typed")

	model = update(t, model, tea.KeyMsg{Type: tea.KeyCtrlC})
	if got := model.input.Value(); got != "" {
		t.Errorf("input = %q, want cleared", got)
	}
	if driver.interrupts != 0 {
		t.Errorf("interrupts = %d, want 0 when input non-empty", driver.interrupts)
	}
}

func TestConsoleRestartKey(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	update(t, model, tea.KeyMsg{Type: tea.KeyCtrlR})
	if driver.restarts != 1 {
		t.Errorf("restarts = %d, want 1", driver.restarts)
	}
}

func TestConsoleStdinRoundTrip(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	model = update(t, model, StdinPromptMsg{Prompt: "name: "})
	if !model.stdinActive {
		t.Fatal("stdin prompt did not activate input mode")
	}
	for _, r := range "ada" {
		model = update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	model = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})

	if len(driver.stdinValues) != 1 || driver.stdinValues[0] != "ada" {
		t.Errorf("stdinValues = %v, want [\"ada\"]", driver.stdinValues)
	}
	if model.stdinActive {
		t.Error("stdin mode still active after submit")
	}
}

func TestConsoleStdinPasswordEcho(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	model = update(t, model, StdinPromptMsg{Prompt: "password: ", Password: true})
	if model.stdin.EchoMode != textinput.EchoPassword {
		t.Errorf("EchoMode = %v, want EchoPassword", model.stdin.EchoMode)
	}
}

func TestConsoleStdinInterruptAnswersEmpty(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	model = update(t, model, StdinPromptMsg{Prompt: "value: "})
	model = update(t, model, tea.KeyMsg{Type: tea.KeyCtrlC})

	if len(driver.stdinValues) != 1 || driver.stdinValues[0] != "" {
		t.Errorf("stdinValues = %v, want [\"\"]", driver.stdinValues)
	}
	if driver.interrupts != 1 {
		t.Errorf("interrupts = %d, want 1", driver.interrupts)
	}
}

func TestConsoleSingleCompletionApplies(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)
	model = typeRunes(t, model, "pri")

	model = update(t, model, CompletionMsg{Matches: []string{"print"}, Start: 0, End: 3})
	if got := model.input.Value(); got != "print" {
		t.Errorf("input = %q, want %q", got, "print")
	}
}

func TestConsoleManyCompletionsNoticed(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)
	model = typeRunes(t, model, "p")

	model = update(t, model, CompletionMsg{Matches: []string{"pass", "pow", "print"}, Start: 0, End: 1})
	if got := model.input.Value(); got != "p" {
		t.Errorf("input = %q, want unchanged", got)
	}
	if !strings.Contains(model.status.Notice, "print") {
		t.Errorf("Notice = %q, want completion listing", model.status.Notice)
	}
}

func TestConsoleInspectionJoinsTranscript(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	model = update(t, model, InspectionMsg{Found: true, Text: "print(value, ...)\n\nPrints the values."})
	view := ansi.Strip(model.View())
	if !strings.Contains(view, "Prints the values.") {
		t.Errorf("inspection text missing from transcript:\n%s", view)
	}
}

func TestConsoleKernelDeadNotice(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	model = update(t, model, KernelDeadMsg{Reason: errors.New("heartbeat lost")})
	if model.status.State != kernel.StateDead {
		t.Errorf("State = %v, want Dead", model.status.State)
	}
	if !strings.Contains(model.status.Notice, "heartbeat lost") {
		t.Errorf("Notice = %q, want dead reason", model.status.Notice)
	}
}

func TestConsoleQuitOnEmptyInput(t *testing.T) {
	driver := &fakeDriver{}
	model := newTestConsole(driver)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	if cmd == nil {
		t.Fatal("ctrl+d on empty input did not quit")
	}

	model = typeRunes(t, model, "pending")
	updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	if got := updated.(ConsoleModel).input.Value(); got != "pending" {
		t.Errorf("input = %q, want preserved on ctrl+d with pending text", got)
	}
}
