// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package integration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/wire"
)

func TestCommEcho(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	messages := make(chan wire.CommMsg, 4)
	comm, err := session.OpenComm(ctx, "echo", map[string]any{"hello": "kernel"}, kernel.CommHandler{
		OnMessage: func(msg wire.CommMsg, buffers [][]byte) { messages <- msg },
	})
	if err != nil {
		t.Fatalf("OpenComm: %v", err)
	}

	// The mock greets an accepted echo comm by reflecting the open
	// data straight back.
	select {
	case msg := <-messages:
		if msg.Data["hello"] != "kernel" {
			t.Errorf("greeting data = %v, want the open payload", msg.Data)
		}
	case <-time.After(testTimeout):
		t.Fatal("no greeting on the echo comm")
	}

	if err := comm.Send(ctx, map[string]any{"n": "42"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-messages:
		if msg.Data["n"] != "42" {
			t.Errorf("echo data = %v, want n=42", msg.Data)
		}
	case <-time.After(testTimeout):
		t.Fatal("no echo for the comm message")
	}

	if err := comm.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCommRejectedTarget(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	closed := make(chan error, 1)
	_, err := session.OpenComm(ctx, "no-such-target", nil, kernel.CommHandler{
		OnClose: func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("OpenComm: %v", err)
	}
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("close reason = %v, want nil for a kernel-side close", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("comm against an unknown target was never closed")
	}
}

func TestKernelOpenedComm(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	opened := make(chan wire.CommOpen, 1)
	err := session.RegisterCommTarget(ctx, "plot", func(comm *kernel.Comm, open wire.CommOpen) kernel.CommHandler {
		opened <- open
		return kernel.CommHandler{}
	})
	if err != nil {
		t.Fatalf("RegisterCommTarget: %v", err)
	}

	if _, result := run(t, session, "comm_open:plot"); result.Err != nil {
		t.Fatalf("execution error: %v", result.Err)
	}
	select {
	case open := <-opened:
		if open.Target != "plot" {
			t.Errorf("Target = %q, want plot", open.Target)
		}
		if open.Data["origin"] != "kernel" {
			t.Errorf("Data = %v, want origin=kernel", open.Data)
		}
	case <-time.After(testTimeout):
		t.Fatal("kernel-side comm_open never reached the target factory")
	}
}

func TestCommsForceClosedOnShutdown(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "json"))
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	closed := make(chan error, 1)
	_, err := session.OpenComm(ctx, "echo", nil, kernel.CommHandler{
		OnClose: func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("OpenComm: %v", err)
	}
	if err := session.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-closed:
		if !errors.Is(err, kernel.ErrSessionLost) {
			t.Errorf("close reason = %v, want ErrSessionLost", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("comm not force-closed by shutdown")
	}
}
