// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/thyone-project/thyone/history"
	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/lib/notebookui"
	"github.com/thyone-project/thyone/wire"
)

// auxTimeout bounds the auxiliary shell round-trips (completeness,
// completion, inspection) issued from the UI. They ride the same FIFO
// queue as executes, so a busy kernel can delay them arbitrarily; the
// UI would rather give up than hang.
const auxTimeout = 5 * time.Second

// sessionDriver adapts a kernel session to the UI's Driver interface.
// Driver methods run as bubbletea commands on their own goroutines;
// streaming events are pushed into the program via Send.
type sessionDriver struct {
	session *kernel.Session
	store   *history.Store // nil when history is disabled
	logger  *slog.Logger

	// pending counts submitted-but-unresolved executions; the status
	// bar shows pending-1 as the queue depth behind the in-flight one.
	pending atomic.Int64

	mu      sync.Mutex
	program *tea.Program
}

// attach connects the driver to a running program. Events arriving
// before attach (early kernel state transitions) are dropped; the UI
// reads the current state when it starts.
func (d *sessionDriver) attach(program *tea.Program) {
	d.mu.Lock()
	d.program = program
	d.mu.Unlock()
}

func (d *sessionDriver) deliver(msg tea.Msg) {
	d.mu.Lock()
	program := d.program
	d.mu.Unlock()
	if program != nil {
		program.Send(msg)
	}
}

// monitor returns the session monitor that forwards lifecycle events
// into the program. Passed to kernel.New before the program exists.
func (d *sessionDriver) monitor() kernel.Monitor {
	return kernel.Monitor{
		OnState: func(state kernel.State) {
			d.deliver(notebookui.KernelStateMsg{State: state, QueueDepth: d.queueDepth()})
		},
		OnDead: func(reason error) {
			d.deliver(notebookui.KernelDeadMsg{Reason: reason})
		},
	}
}

func (d *sessionDriver) queueDepth() int {
	depth := int(d.pending.Load()) - 1
	if depth < 0 {
		depth = 0
	}
	return depth
}

// Execute submits code and streams its events into the program. The
// command goroutine stays alive until the execution resolves, then
// records history and reports completion.
func (d *sessionDriver) Execute(code string) tea.Cmd {
	return func() tea.Msg {
		// Broadcasts can start arriving before Execute returns the
		// handle that carries the ID; buffer them until it does.
		var (
			mu       sync.Mutex
			id       string
			buffered []wire.Content
		)
		emit := func(content wire.Content) {
			mu.Lock()
			if id == "" {
				buffered = append(buffered, content)
				mu.Unlock()
				return
			}
			execID := id
			mu.Unlock()
			d.deliver(notebookui.ExecOutputMsg{ID: execID, Content: content})
		}

		sink := kernel.Callbacks{
			OnStream:        func(v wire.Stream) { emit(v) },
			OnDisplay:       func(v wire.DisplayData) { emit(v) },
			OnUpdateDisplay: func(v wire.UpdateDisplayData) { emit(v) },
			OnResult:        func(v wire.ExecuteResult) { emit(v) },
			OnError:         func(v wire.RuntimeError) { emit(v) },
			OnClear:         func(v wire.ClearOutput) { emit(v) },
			OnExecuteInput:  func(v wire.ExecuteInput) { emit(v) },
			OnInput: func(v wire.InputRequest) {
				d.deliver(notebookui.StdinPromptMsg{Prompt: v.Prompt, Password: v.Password})
			},
		}

		started := time.Now()
		d.pending.Add(1)
		defer d.pending.Add(-1)

		exec, err := d.session.Execute(context.Background(), code, sink)
		if err != nil {
			return notebookui.NoticeMsg{Text: err.Error()}
		}

		mu.Lock()
		id = exec.ID()
		d.deliver(notebookui.ExecQueuedMsg{ID: id, Code: code})
		for _, content := range buffered {
			d.deliver(notebookui.ExecOutputMsg{ID: id, Content: content})
		}
		buffered = nil
		mu.Unlock()

		result, _ := exec.Wait(context.Background())
		d.recordHistory(code, started, result)
		return notebookui.ExecDoneMsg{ID: exec.ID(), Err: result.Err}
	}
}

func (d *sessionDriver) recordHistory(code string, started time.Time, result kernel.Result) {
	if d.store == nil {
		return
	}
	status := wire.StatusAborted
	if reply, ok := result.Reply.(wire.ExecuteReply); ok {
		status = reply.Status
	}
	ctx, cancel := context.WithTimeout(context.Background(), auxTimeout)
	defer cancel()
	err := d.store.Append(ctx, history.Entry{
		Session:  d.session.ID(),
		Line:     d.session.ExecutionCount(),
		Source:   code,
		Started:  started,
		Duration: time.Since(started),
		Status:   status,
	})
	if err != nil {
		d.logger.Warn("recording history entry", "error", err)
	}
}

func (d *sessionDriver) IsComplete(code string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), auxTimeout)
		defer cancel()
		reply, err := d.session.IsComplete(ctx, code)
		if err != nil {
			// A kernel that cannot answer does not block submission.
			return notebookui.CompletenessMsg{Code: code, Status: wire.CodeUnknown}
		}
		return notebookui.CompletenessMsg{Code: code, Status: reply.Status}
	}
}

func (d *sessionDriver) Complete(code string, cursor int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), auxTimeout)
		defer cancel()
		reply, err := d.session.Complete(ctx, code, cursor)
		if err != nil {
			return notebookui.NoticeMsg{Text: err.Error()}
		}
		return notebookui.CompletionMsg{
			Matches: reply.Matches,
			Start:   reply.CursorStart,
			End:     reply.CursorEnd,
		}
	}
}

func (d *sessionDriver) Inspect(code string, cursor int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), auxTimeout)
		defer cancel()
		reply, err := d.session.Inspect(ctx, code, cursor, 0)
		if err != nil {
			return notebookui.NoticeMsg{Text: err.Error()}
		}
		if !reply.Found {
			return notebookui.InspectionMsg{}
		}
		text, _ := reply.Data.Text("text/plain")
		return notebookui.InspectionMsg{Found: true, Text: strings.TrimRight(text, "\n")}
	}
}

func (d *sessionDriver) Interrupt() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), auxTimeout)
		defer cancel()
		if err := d.session.Interrupt(ctx); err != nil {
			return notebookui.NoticeMsg{Text: err.Error()}
		}
		return nil
	}
}

func (d *sessionDriver) Restart() tea.Cmd {
	return func() tea.Msg {
		// Restart is bounded by the session's startup timeout, not the
		// short auxiliary timeout.
		if err := d.session.Restart(context.Background()); err != nil {
			return notebookui.NoticeMsg{Text: err.Error()}
		}
		return notebookui.NoticeMsg{Text: "kernel restarted"}
	}
}

func (d *sessionDriver) RespondStdin(value string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), auxTimeout)
		defer cancel()
		if err := d.session.RespondStdin(ctx, value); err != nil {
			return notebookui.NoticeMsg{Text: err.Error()}
		}
		return nil
	}
}

// historySeedLimit bounds how many persisted submissions feed the
// console's recall list.
const historySeedLimit = 200

// sendHistorySeed loads recent submissions from the history store and
// pushes them into the program, oldest first.
func (d *sessionDriver) sendHistorySeed(ctx context.Context) {
	if d.store == nil {
		return
	}
	sources, err := d.store.RecentSources(ctx, historySeedLimit)
	if err != nil {
		d.logger.Warn("loading history", "error", err)
		return
	}
	if len(sources) == 0 {
		return
	}
	// RecentSources is newest first; recall wants oldest first.
	for i, j := 0, len(sources)-1; i < j; i, j = i+1, j-1 {
		sources[i], sources[j] = sources[j], sources[i]
	}
	d.deliver(notebookui.HistorySeedMsg{Sources: sources})
}

// sendKernelInfo fetches the kernel's self-description and pushes it
// into the program for the status bar and the highlight lexer.
func (d *sessionDriver) sendKernelInfo(ctx context.Context) {
	reply, err := d.session.KernelInfo(ctx)
	if err != nil {
		d.logger.Warn("fetching kernel info", "error", err)
		return
	}
	displayName := reply.Implementation
	if reply.ImplementationVersion != "" {
		displayName += " " + reply.ImplementationVersion
	}
	d.deliver(notebookui.KernelInfoMsg{
		DisplayName: displayName,
		Language:    reply.Language.Name,
		Banner:      reply.Banner,
	})
}

var _ notebookui.Driver = (*sessionDriver)(nil)
