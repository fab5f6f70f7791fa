// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/thyone-project/thyone/lib/testutil"
	"github.com/thyone-project/thyone/transport"
)

const waitFor = 5 * time.Second

// shSpec builds a signal-mode kernelspec running a shell script. The
// trailing argv element satisfies the {connection_file} requirement
// and lands in the script's $0.
func shSpec(script string) Spec {
	return Spec{
		Name:          "sh",
		InterruptMode: "signal",
		Argv:          []string{"sh", "-c", script, "{connection_file}"},
	}
}

func newProcess(t *testing.T, spec Spec) *Process {
	t.Helper()
	p := NewProcess(spec, Options{RuntimeDir: t.TempDir()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		if err := p.Shutdown(ctx); err != nil {
			t.Errorf("cleanup shutdown: %v", err)
		}
	})
	return p
}

func TestLaunchWritesConnectionFile(t *testing.T) {
	t.Parallel()

	p := newProcess(t, shSpec("sleep 30"))
	info, err := p.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := info.Validate(); err != nil {
		t.Errorf("descriptor invalid: %v", err)
	}
	if info.KernelName != "sh" {
		t.Errorf("KernelName = %q, want sh", info.KernelName)
	}

	path := p.ConnectionFile()
	if path == "" {
		t.Fatal("no connection file recorded")
	}
	onDisk, err := transport.ReadConnectionFile(path)
	if err != nil {
		t.Fatalf("reading connection file: %v", err)
	}
	if onDisk != *info {
		t.Errorf("connection file = %+v, want %+v", onDisk, *info)
	}
}

func TestShutdownReclaimsProcess(t *testing.T) {
	t.Parallel()

	p := newProcess(t, shSpec("sleep 30"))
	if _, err := p.Launch(context.Background()); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	path := p.ConnectionFile()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.ConnectionFile() != "" {
		t.Error("connection file still recorded after shutdown")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("connection file still on disk: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestShutdownEscalatesWhenTermIgnored(t *testing.T) {
	t.Parallel()

	p := newProcess(t, shSpec("trap '' TERM; while :; do sleep 1; done"))
	if _, err := p.Launch(context.Background()); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestExitedDeliversProcessResult(t *testing.T) {
	t.Parallel()

	p := newProcess(t, shSpec("exit 3"))
	if _, err := p.Launch(context.Background()); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	path := p.ConnectionFile()

	err := testutil.RequireReceive(t, p.Exited(), waitFor, "exit result")
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("exit result = %v, want exit status 3", err)
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("connection file not cleaned up after exit: %v", statErr)
	}
}

func TestInterruptSignalsProcessGroup(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "ready")
	spec := shSpec(`trap "exit 42" INT; : > "$READY_FILE"; while :; do sleep 1; done`)
	p := NewProcess(spec, Options{
		RuntimeDir: t.TempDir(),
		ExtraEnv:   map[string]string{"READY_FILE": marker},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		p.Shutdown(ctx)
	})

	if _, err := p.Launch(context.Background()); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	// The trap is only reliable once the script signals readiness.
	deadline := time.Now().Add(waitFor)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("kernel script never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !p.Interrupt() {
		t.Fatal("Interrupt reported no signal sent")
	}
	err := testutil.RequireReceive(t, p.Exited(), waitFor, "exit result")
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 42 {
		t.Fatalf("exit result = %v, want exit status 42 from the INT trap", err)
	}
}

func TestInterruptMessageModeDeclines(t *testing.T) {
	t.Parallel()

	spec := shSpec("sleep 30")
	spec.InterruptMode = "message"
	p := newProcess(t, spec)
	if _, err := p.Launch(context.Background()); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if p.Interrupt() {
		t.Error("message-mode spec delivered a signal interrupt")
	}
}

func TestInterruptWithoutProcess(t *testing.T) {
	t.Parallel()

	p := NewProcess(shSpec("sleep 30"), Options{RuntimeDir: t.TempDir()})
	if p.Interrupt() {
		t.Error("Interrupt reported a signal with no process owned")
	}
}

func TestLaunchFailureCleansUp(t *testing.T) {
	t.Parallel()

	runtimeDir := t.TempDir()
	spec := Spec{
		Name:          "missing",
		InterruptMode: "signal",
		Argv:          []string{filepath.Join(runtimeDir, "no-such-binary"), "{connection_file}"},
	}
	p := NewProcess(spec, Options{RuntimeDir: runtimeDir})
	if _, err := p.Launch(context.Background()); err == nil {
		t.Fatal("Launch of a missing binary succeeded")
	}
	entries, err := os.ReadDir(runtimeDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("runtime dir not cleaned up: %v", entries)
	}
}

func TestRuntimeDirPrefersXDG(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got, want := RuntimeDir(), "/run/user/1000/thyone"; got != want {
		t.Errorf("RuntimeDir() = %q, want %q", got, want)
	}
}
