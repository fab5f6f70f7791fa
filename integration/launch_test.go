// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package integration_test

import (
	"context"
	"os"
	"testing"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/launch"
	"github.com/thyone-project/thyone/wire"
)

func TestExecuteOverCBOR(t *testing.T) {
	t.Parallel()
	session := startSession(t, startKernel(t, "cbor"))

	sink, result := run(t, session, "6 * 7")
	if r := reply(t, result); r.Status != wire.StatusOK {
		t.Fatalf("Status = %q, want ok", r.Status)
	}
	if got := sink.resultText(t); got != "42" {
		t.Errorf("result = %q, want %q", got, "42")
	}
}

// TestLaunchedProcess drives the full process path: connection file,
// fork, dial, execute, shutdown with process reclaim. It needs a built
// thyone-kernel-mock binary:
//
//	go build -o /tmp/thyone-kernel-mock ./cmd/thyone-kernel-mock
//	THYONE_KERNEL_MOCK=/tmp/thyone-kernel-mock go test ./integration/
func TestLaunchedProcess(t *testing.T) {
	binary := os.Getenv("THYONE_KERNEL_MOCK")
	if binary == "" {
		t.Skip("THYONE_KERNEL_MOCK not set")
	}
	t.Parallel()

	spec := launch.Spec{
		Name:          "mock",
		Argv:          []string{binary, "-f", "{connection_file}"},
		DisplayName:   "Mock",
		Language:      "mock",
		InterruptMode: "message",
	}
	launcher := launch.NewProcess(spec, launch.Options{RuntimeDir: t.TempDir()})

	session, err := kernel.New(kernel.Config{Launcher: launcher})
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("session.Start: %v", err)
	}
	defer session.Shutdown(ctx)

	sink, result := run(t, session, "print:launched\n2 + 3")
	if r := reply(t, result); r.Status != wire.StatusOK {
		t.Fatalf("Status = %q, want ok", r.Status)
	}
	if got := sink.stdout(); got != "launched\n" {
		t.Errorf("stdout = %q, want %q", got, "launched\n")
	}
	if got := sink.resultText(t); got != "5" {
		t.Errorf("result = %q, want %q", got, "5")
	}

	if err := session.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
