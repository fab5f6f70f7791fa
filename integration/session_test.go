// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package integration_test

import (
	"context"
	"strings"
	"testing"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/wire"
)

func TestExecuteRoundTrip(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))

	sink, result := run(t, session, "1 + 1")
	r := reply(t, result)
	if r.Status != wire.StatusOK {
		t.Fatalf("Status = %q, want ok", r.Status)
	}
	if r.ExecutionCount != 1 {
		t.Errorf("ExecutionCount = %d, want 1", r.ExecutionCount)
	}
	if got := sink.resultText(t); got != "2" {
		t.Errorf("result = %q, want %q", got, "2")
	}
	if len(sink.inputs) != 1 || sink.inputs[0].Code != "1 + 1" {
		t.Errorf("execute_input echo = %+v, want code %q", sink.inputs, "1 + 1")
	}
}

func TestExecuteStreams(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))

	sink, result := run(t, session, "print:hello\nstderr:warning")
	if r := reply(t, result); r.Status != wire.StatusOK {
		t.Fatalf("Status = %q, want ok", r.Status)
	}
	if got := sink.stdout(); !strings.Contains(got, "hello") {
		t.Errorf("stdout = %q, want it to contain %q", got, "hello")
	}
	if got := sink.stderr(); !strings.Contains(got, "warning") {
		t.Errorf("stderr = %q, want it to contain %q", got, "warning")
	}
}

func TestExecuteError(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))

	sink, result := run(t, session, "error:ValueError:bad input\nprint:unreached")
	r := reply(t, result)
	if r.Status != wire.StatusError {
		t.Fatalf("Status = %q, want error", r.Status)
	}
	if r.ErrorName != "ValueError" || r.ErrorValue != "bad input" {
		t.Errorf("error = %s: %s, want ValueError: bad input", r.ErrorName, r.ErrorValue)
	}
	if len(sink.errors) != 1 {
		t.Fatalf("got %d error broadcasts, want 1", len(sink.errors))
	}
	if got := sink.stdout(); strings.Contains(got, "unreached") {
		t.Errorf("lines after the failure ran: stdout = %q", got)
	}
}

func TestExecutionCountAdvances(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))

	for want := 1; want <= 3; want++ {
		_, result := run(t, session, "1 + 1")
		if got := reply(t, result).ExecutionCount; got != want {
			t.Fatalf("ExecutionCount = %d, want %d", got, want)
		}
	}
	if got := session.ExecutionCount(); got != 3 {
		t.Errorf("session.ExecutionCount() = %d, want 3", got)
	}
}

func TestQueuedExecutionsRunInOrder(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	sinks := make([]*collector, 3)
	execs := make([]*kernel.Execution, 3)
	for i, code := range []string{"print:first", "print:second", "print:third"} {
		sinks[i] = &collector{}
		exec, err := session.Execute(ctx, code, sinks[i].callbacks())
		if err != nil {
			t.Fatalf("Execute #%d: %v", i, err)
		}
		execs[i] = exec
	}
	for i, exec := range execs {
		result, err := exec.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait #%d: %v", i, err)
		}
		if got, want := reply(t, result).ExecutionCount, i+1; got != want {
			t.Errorf("execution #%d count = %d, want %d", i, got, want)
		}
	}
	for i, want := range []string{"first", "second", "third"} {
		if got := sinks[i].stdout(); !strings.Contains(got, want) {
			t.Errorf("output #%d routed wrong: stdout = %q, want %q", i, got, want)
		}
	}
}

func TestRichDisplayAndClear(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))

	sink, result := run(t, session, "rich:text/html:<b>bold</b>\nclear\ndisplay:after")
	if r := reply(t, result); r.Status != wire.StatusOK {
		t.Fatalf("Status = %q, want ok", r.Status)
	}
	if len(sink.displays) != 2 {
		t.Fatalf("got %d display messages, want 2", len(sink.displays))
	}
	if html, ok := sink.displays[0].Data.Text("text/html"); !ok || html != "<b>bold</b>" {
		t.Errorf("rich display = %q, %v", html, ok)
	}
	if len(sink.clears) != 1 {
		t.Errorf("got %d clear messages, want 1", len(sink.clears))
	}
}

func TestAuxiliaryRequests(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	info, err := session.KernelInfo(ctx)
	if err != nil {
		t.Fatalf("KernelInfo: %v", err)
	}
	if info.Language.Name != "mock" {
		t.Errorf("language = %q, want mock", info.Language.Name)
	}

	complete, err := session.Complete(ctx, "pr", 2)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(complete.Matches) != 1 || complete.Matches[0] != "print:" {
		t.Errorf("Matches = %v, want [print:]", complete.Matches)
	}

	inspect, err := session.Inspect(ctx, "sleep:1s", 2, 0)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !inspect.Found {
		t.Error("sleep directive not found by inspection")
	}

	isComplete, err := session.IsComplete(ctx, "print:hi")
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if isComplete.Status != wire.CodeComplete {
		t.Errorf("IsComplete status = %q, want complete", isComplete.Status)
	}
}

func TestHistoryTail(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	for _, code := range []string{"print:one", "print:two", "print:three"} {
		run(t, session, code)
	}
	history, err := session.HistoryTail(ctx, 2)
	if err != nil {
		t.Fatalf("HistoryTail: %v", err)
	}
	if len(history.Items) != 2 {
		t.Fatalf("got %d history items, want 2", len(history.Items))
	}
	if history.Items[1].Source != "print:three" {
		t.Errorf("last item = %q, want print:three", history.Items[1].Source)
	}
}
