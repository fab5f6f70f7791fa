// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/thyone-project/thyone/cmd/thyone/cli"
	"github.com/thyone-project/thyone/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an ExitError
		// with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return rootCommand().Execute(os.Args[1:])
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "thyone",
		Description: `Thyone: a terminal client for Jupyter-style compute kernels.

Launch or attach to kernels, evaluate code interactively, work with
.ipynb notebooks, and run notebooks top to bottom from scripts.`,
		Subcommands: []*cli.Command{
			consoleCommand(),
			notebookCommand(),
			runCommand(),
			kernelsCommand(),
			historyCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("thyone %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Start an interactive console on the default kernel",
				Command:     "thyone console",
			},
			{
				Description: "Pick a kernel interactively",
				Command:     "thyone console --kernel=",
			},
			{
				Description: "Attach to the most recently started kernel",
				Command:     "thyone console --existing",
			},
			{
				Description: "Open a notebook",
				Command:     "thyone notebook analysis.ipynb",
			},
			{
				Description: "Execute a notebook top to bottom and save the outputs",
				Command:     "thyone run analysis.ipynb",
			},
			{
				Description: "List installed kernels",
				Command:     "thyone kernels",
			},
		},
	}
}
