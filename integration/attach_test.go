// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

func TestAttachViaConnectionFile(t *testing.T) {
	t.Parallel()
	k := startKernel(t, "json")

	// Persist the descriptor the way a launcher would, then resolve it
	// back through the runtime-directory discovery path.
	runtimeDir := t.TempDir()

	// An older file that discovery must rank below the fresh one.
	stale := filepath.Join(runtimeDir, "kernel-stale.json")
	staleInfo, err := transport.NewConnectInfo("json")
	if err != nil {
		t.Fatalf("NewConnectInfo: %v", err)
	}
	staleInfo.ShellPort, staleInfo.IOPubPort, staleInfo.StdinPort = 1, 2, 3
	staleInfo.ControlPort, staleInfo.HeartbeatPort = 4, 5
	if err := transport.WriteConnectionFile(stale, staleInfo); err != nil {
		t.Fatalf("WriteConnectionFile(stale): %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	path := filepath.Join(runtimeDir, "kernel-live.json")
	if err := transport.WriteConnectionFile(path, k.Info()); err != nil {
		t.Fatalf("WriteConnectionFile: %v", err)
	}

	files, err := transport.FindConnectionFiles(runtimeDir)
	if err != nil {
		t.Fatalf("FindConnectionFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d connection files, want 2", len(files))
	}
	if files[0] != path {
		t.Fatalf("newest file = %s, want %s", files[0], path)
	}

	info, err := transport.ReadConnectionFile(files[0])
	if err != nil {
		t.Fatalf("ReadConnectionFile: %v", err)
	}

	session, err := kernel.New(kernel.Config{Launcher: kernel.Attach(&info)})
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("session.Start: %v", err)
	}
	defer session.Shutdown(ctx)

	sink, result := run(t, session, "print:attached")
	if r := reply(t, result); r.Status != wire.StatusOK {
		t.Fatalf("Status = %q, want ok", r.Status)
	}
	if got := sink.stdout(); got != "attached\n" {
		t.Errorf("stdout = %q, want %q", got, "attached\n")
	}
}
