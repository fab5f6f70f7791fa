// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Thyone-kernel-mock is a drop-in kernel for integration tests. It
// speaks the full kernel wire protocol over TCP but interprets the
// kerneltest script language instead of a real interpreter, so tests
// can drive executions deterministically without installing Python.
//
// Install it as a kernelspec to exercise the launch path end to end:
//
//	{
//	  "argv": ["thyone-kernel-mock", "-f", "{connection_file}"],
//	  "display_name": "Mock",
//	  "language": "mock",
//	  "interrupt_mode": "message"
//	}
//
// The binary reads the connection descriptor, binds the ports it
// names, and serves until a shutdown request or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thyone-project/thyone/kernel/kerneltest"
	"github.com/thyone-project/thyone/lib/process"
	"github.com/thyone-project/thyone/lib/version"
	"github.com/thyone-project/thyone/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var connectionFile string
	var language string
	var debug bool
	var showVersion bool
	flag.StringVar(&connectionFile, "f", "", "path to the connection file (required)")
	flag.StringVar(&language, "language", "mock", "language name reported in kernel_info")
	flag.BoolVar(&debug, "debug", false, "log protocol traffic to stderr")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("thyone-kernel-mock %s\n", version.Full())
		return nil
	}
	if connectionFile == "" {
		return fmt.Errorf("missing required flag -f")
	}

	info, err := transport.ReadConnectionFile(connectionFile)
	if err != nil {
		return err
	}

	logger := slog.New(slog.DiscardHandler)
	if debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	kernel, err := kerneltest.Start(info, kerneltest.Options{
		Logger:   logger,
		Language: language,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		return kernel.Close()
	case <-kernel.Done():
		return nil
	}
}
