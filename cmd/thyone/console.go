// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/thyone-project/thyone/cmd/thyone/cli"
	"github.com/thyone-project/thyone/lib/notebookui"
)

func consoleCommand() *cli.Command {
	var opts sessionOptions

	makeFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("console", pflag.ContinueOnError)
		flagSet.StringVar(&opts.configPath, "config", "", "configuration file")
		flagSet.StringVar(&opts.kernelName, "kernel", "", "kernelspec to launch (empty: config default, or pick)")
		flagSet.StringVar(&opts.existing, "existing", "", "attach to a running kernel (connection file path)")
		flagSet.Lookup("existing").NoOptDefVal = "newest"
		flagSet.StringVar(&opts.codec, "codec", "", "wire codec: json or cbor")
		return flagSet
	}

	return &cli.Command{
		Name:    "console",
		Summary: "Start an interactive console",
		Description: `Start an interactive console against a kernel.

Type code at the prompt; enter submits when the code forms a complete
statement and continues on a new line otherwise. Tab completes, ctrl+q
shows contextual help, ctrl+c interrupts a running execution, ctrl+r
restarts the kernel, ctrl+d exits.`,
		Usage: "thyone console [flags]",
		Flags: makeFlags,
		Examples: []cli.Example{
			{
				Description: "Console on the configured default kernel",
				Command:     "thyone console",
			},
			{
				Description: "Console on a named kernel",
				Command:     "thyone console --kernel julia-1.10",
			},
			{
				Description: "Attach to the newest running kernel",
				Command:     "thyone console --existing",
			},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runConsole(opts)
		},
	}
}

func runConsole(opts sessionOptions) error {
	logger := cli.NewCommandLogger().With("command", "console")

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

	model := notebookui.NewConsole(opened.driver, opened.kernelName, opened.theme)
	program := tea.NewProgram(model, tea.WithAltScreen())
	opened.driver.attach(program)
	go opened.driver.sendKernelInfo(ctx)
	go opened.driver.sendHistorySeed(ctx)

	_, err = program.Run()
	return err
}
