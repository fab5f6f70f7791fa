// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/thyone-project/thyone/cmd/thyone/cli"
	"github.com/thyone-project/thyone/lib/notebookui"
	"github.com/thyone-project/thyone/notebook"
)

func notebookCommand() *cli.Command {
	var opts sessionOptions
	var restorePath string

	makeFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("notebook", pflag.ContinueOnError)
		flagSet.StringVar(&opts.configPath, "config", "", "configuration file")
		flagSet.StringVar(&opts.kernelName, "kernel", "", "kernelspec to launch (empty: notebook metadata, then config default)")
		flagSet.StringVar(&opts.existing, "existing", "", "attach to a running kernel (connection file path)")
		flagSet.Lookup("existing").NoOptDefVal = "newest"
		flagSet.StringVar(&opts.codec, "codec", "", "wire codec: json or cbor")
		flagSet.StringVar(&restorePath, "restore", "", "open from a checkpoint file instead of the notebook")
		return flagSet
	}

	return &cli.Command{
		Name:    "notebook",
		Summary: "Open a notebook file",
		Description: `Open an .ipynb notebook against a kernel.

Navigate cells with j/k, run the selected cell with ctrl+enter,
checkpoint with ctrl+s. The notebook file is written back on exit;
checkpoints are compressed snapshots kept alongside it. --restore
opens the document from one of those snapshots instead of the file,
so saving on exit rolls the notebook back.`,
		Usage: "thyone notebook <file.ipynb> [flags]",
		Flags: makeFlags,
		Examples: []cli.Example{
			{
				Description: "Open a notebook, creating it if missing",
				Command:     "thyone notebook analysis.ipynb",
			},
			{
				Description: "Open against a specific kernel",
				Command:     "thyone notebook analysis.ipynb --kernel python3",
			},
			{
				Description: "Roll back to a checkpoint",
				Command:     "thyone notebook analysis.ipynb --restore .thyone-checkpoint/analysis.20260829T101500.000000000.ckpt",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one notebook path, got %d arguments", len(args))
			}
			return runNotebook(opts, args[0], restorePath)
		},
	}
}

func runNotebook(opts sessionOptions, path, restorePath string) error {
	logger := cli.NewCommandLogger().With("command", "notebook", "notebook", path)

	var nb *notebook.Notebook
	var err error
	if restorePath != "" {
		nb, err = notebook.ReadCheckpoint(restorePath)
	} else {
		nb, err = loadOrCreateNotebook(path)
	}
	if err != nil {
		return err
	}
	// The notebook remembers its kernel; an explicit --kernel wins.
	if opts.kernelName == "" && opts.existing == "" {
		opts.kernelName = nb.Kernelspec.Name
	}

	ctx := context.Background()
	opened, err := openSession(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			opened.cfg.Kernel.ShutdownGraceDuration()*2)
		defer cancel()
		if err := opened.Close(shutdownCtx); err != nil {
			logger.Warn("shutting down session", "error", err)
		}
	}()

	checkpoint := func(nb *notebook.Notebook) (string, error) {
		return nb.WriteCheckpoint(path, notebook.CheckpointOptions{
			Keep:        opened.cfg.Notebook.CheckpointKeep,
			Compression: opened.cfg.Notebook.CheckpointCompression,
		})
	}

	model := notebookui.NewNotebookView(nb, opened.driver, checkpoint, opened.kernelName, opened.theme)
	program := tea.NewProgram(model, tea.WithAltScreen())
	opened.driver.attach(program)
	go opened.driver.sendKernelInfo(ctx)

	final, err := program.Run()
	if err != nil {
		return err
	}

	// Write the document back, dirty or not: execution counts and
	// outputs belong in the file.
	if view, ok := final.(notebookui.NotebookModel); ok {
		if err := view.Notebook().WriteFile(path); err != nil {
			return err
		}
	}
	return nil
}

// loadOrCreateNotebook reads the notebook at path, or starts a fresh
// single-cell document when the file does not exist yet.
func loadOrCreateNotebook(path string) (*notebook.Notebook, error) {
	nb, err := notebook.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "creating new notebook %s\n", path)
		return notebook.New(), nil
	}
	if err != nil {
		return nil, err
	}
	return nb, nil
}
