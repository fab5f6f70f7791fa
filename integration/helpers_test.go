// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration_test exercises the session engine against the
// mock kernel over real TCP sockets: launch, execute, interrupt,
// restart, stdin, comms, and attach-by-connection-file all go through
// the same transport and wire layers a real kernel would.
package integration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/kernel/kerneltest"
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

const testTimeout = 30 * time.Second

// startKernel runs a mock kernel on ephemeral loopback ports.
func startKernel(t *testing.T, codec string) *kerneltest.Kernel {
	t.Helper()
	info, err := transport.NewConnectInfo(codec)
	if err != nil {
		t.Fatalf("NewConnectInfo: %v", err)
	}
	k, err := kerneltest.Start(info, kerneltest.Options{Language: "mock"})
	if err != nil {
		t.Fatalf("start mock kernel: %v", err)
	}
	t.Cleanup(func() { k.Close() })
	return k
}

// startSession builds a session attached to the mock kernel and starts
// it. The session is shut down when the test ends.
func startSession(t *testing.T, k *kerneltest.Kernel, mutate ...func(*kernel.Config)) *kernel.Session {
	t.Helper()
	info := k.Info()
	cfg := kernel.Config{Launcher: kernel.Attach(&info)}
	for _, fn := range mutate {
		fn(&cfg)
	}
	session, err := kernel.New(cfg)
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("session.Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		session.Shutdown(ctx)
	})
	return session
}

// collector records everything the kernel broadcasts for one
// execution.
type collector struct {
	mu       sync.Mutex
	streams  []wire.Stream
	displays []wire.DisplayData
	results  []wire.ExecuteResult
	errors   []wire.RuntimeError
	clears   []wire.ClearOutput
	inputs   []wire.ExecuteInput
	prompts  []wire.InputRequest
}

func (c *collector) callbacks() kernel.Callbacks {
	return kernel.Callbacks{
		OnStream:       func(v wire.Stream) { record(c, &c.streams, v) },
		OnDisplay:      func(v wire.DisplayData) { record(c, &c.displays, v) },
		OnResult:       func(v wire.ExecuteResult) { record(c, &c.results, v) },
		OnError:        func(v wire.RuntimeError) { record(c, &c.errors, v) },
		OnClear:        func(v wire.ClearOutput) { record(c, &c.clears, v) },
		OnExecuteInput: func(v wire.ExecuteInput) { record(c, &c.inputs, v) },
		OnInput:        func(v wire.InputRequest) { record(c, &c.prompts, v) },
	}
}

func record[T any](c *collector, dst *[]T, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*dst = append(*dst, v)
}

// stdout concatenates the collected stdout chunks.
func (c *collector) stdout() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out string
	for _, s := range c.streams {
		if s.Name == "stdout" {
			out += s.Text
		}
	}
	return out
}

// stderr concatenates the collected stderr chunks.
func (c *collector) stderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out string
	for _, s := range c.streams {
		if s.Name == "stderr" {
			out += s.Text
		}
	}
	return out
}

// resultText returns the text/plain of the sole execute result.
func (c *collector) resultText(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.results) != 1 {
		t.Fatalf("got %d results, want 1", len(c.results))
	}
	text, ok := c.results[0].Data.Text("text/plain")
	if !ok {
		t.Fatalf("result has no text/plain: %v", c.results[0].Data)
	}
	return text
}

// run submits code and waits for the execution to finish.
func run(t *testing.T, session *kernel.Session, code string) (*collector, kernel.Result) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	sink := &collector{}
	exec, err := session.Execute(ctx, code, sink.callbacks())
	if err != nil {
		t.Fatalf("Execute(%q): %v", code, err)
	}
	result, err := exec.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait(%q): %v", code, err)
	}
	return sink, result
}

// reply asserts the execution produced a shell reply and returns it.
func reply(t *testing.T, result kernel.Result) wire.ExecuteReply {
	t.Helper()
	if result.Err != nil {
		t.Fatalf("execution error: %v", result.Err)
	}
	r, ok := result.Reply.(wire.ExecuteReply)
	if !ok {
		t.Fatalf("reply type = %T, want wire.ExecuteReply", result.Reply)
	}
	return r
}
