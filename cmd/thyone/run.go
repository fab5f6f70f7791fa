// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/thyone-project/thyone/cmd/thyone/cli"
	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/lib/notebookui"
	"github.com/thyone-project/thyone/lib/tui"
	"github.com/thyone-project/thyone/notebook"
	"github.com/thyone-project/thyone/wire"
)

func runCommand() *cli.Command {
	var opts sessionOptions
	var outPath string
	var quiet bool
	var keepGoing bool

	makeFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
		flagSet.StringVar(&opts.configPath, "config", "", "configuration file")
		flagSet.StringVar(&opts.kernelName, "kernel", "", "kernelspec to launch (empty: notebook metadata, then config default)")
		flagSet.StringVar(&opts.existing, "existing", "", "attach to a running kernel (connection file path)")
		flagSet.Lookup("existing").NoOptDefVal = "newest"
		flagSet.StringVar(&opts.codec, "codec", "", "wire codec: json or cbor")
		flagSet.StringVar(&outPath, "out", "", "write the executed notebook here (default: in place)")
		flagSet.BoolVar(&quiet, "quiet", false, "suppress cell output")
		flagSet.BoolVar(&keepGoing, "keep-going", false, "run remaining cells after an error")
		return flagSet
	}

	return &cli.Command{
		Name:    "run",
		Summary: "Execute a notebook top to bottom",
		Description: `Execute every code cell of a notebook in order and write the
resulting outputs back to the file. Exits non-zero when any cell
raised an error.`,
		Usage: "thyone run <file.ipynb> [flags]",
		Flags: makeFlags,
		Examples: []cli.Example{
			{
				Description: "Run in place",
				Command:     "thyone run analysis.ipynb",
			},
			{
				Description: "Run without clobbering the input",
				Command:     "thyone run analysis.ipynb --out executed.ipynb",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one notebook path, got %d arguments", len(args))
			}
			return runBatch(opts, args[0], outPath, quiet, keepGoing)
		},
	}
}

func runBatch(opts sessionOptions, path, outPath string, quiet, keepGoing bool) error {
	logger := cli.NewCommandLogger().With("command", "run", "notebook", path)

	nb, err := notebook.ReadFile(path)
	if err != nil {
		return err
	}
	if opts.kernelName == "" && opts.existing == "" {
		opts.kernelName = nb.Kernelspec.Name
	}
	if outPath == "" {
		outPath = path
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

	failed := 0
	for index := range nb.Cells {
		cell := &nb.Cells[index]
		if cell.Type != notebook.CellCode || strings.TrimSpace(cell.Source) == "" {
			continue
		}
		ok, err := runCell(ctx, opened, cell, quiet)
		if err != nil {
			return err
		}
		if !ok {
			failed++
			if !keepGoing {
				break
			}
		}
	}

	if err := nb.WriteFile(outPath); err != nil {
		return err
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%s: %d cell(s) raised errors\n", path, failed)
		return &cli.ExitError{Code: 1}
	}
	return nil
}

// runCell executes one cell, accumulating outputs on the cell and
// echoing them to stdout. Reports ok=false when the cell raised an
// error in the kernel.
func runCell(ctx context.Context, opened *openedSession, cell *notebook.Cell, quiet bool) (bool, error) {
	cell.ResetOutputs()

	session := opened.session
	width := terminalWidth()

	sink := kernel.Callbacks{
		OnStream: func(v wire.Stream) {
			cell.ApplyMessage(v)
			if !quiet {
				os.Stdout.WriteString(v.Text)
			}
		},
		OnDisplay:       func(v wire.DisplayData) { applyAndRender(cell, v, opened.theme, width, quiet) },
		OnUpdateDisplay: func(v wire.UpdateDisplayData) { cell.ApplyMessage(v) },
		OnResult:        func(v wire.ExecuteResult) { applyAndRender(cell, v, opened.theme, width, quiet) },
		OnError:         func(v wire.RuntimeError) { applyAndRender(cell, v, opened.theme, width, quiet) },
		OnClear:         func(v wire.ClearOutput) { cell.ApplyMessage(v) },
		OnExecuteInput:  func(v wire.ExecuteInput) { cell.ApplyMessage(v) },
		OnInput: func(v wire.InputRequest) {
			// Answer on a fresh goroutine; callbacks must not block
			// the session loop on terminal reads.
			go answerStdin(ctx, session, v)
		},
	}

	exec, err := session.ExecuteRequest(ctx, wire.ExecuteRequest{
		Code:         cell.Source,
		StoreHistory: true,
		AllowStdin:   true,
	}, sink)
	if err != nil {
		return false, err
	}
	result, err := exec.Wait(ctx)
	if err != nil {
		return false, err
	}
	if result.Err != nil {
		return false, result.Err
	}
	if reply, ok := result.Reply.(wire.ExecuteReply); ok {
		if reply.ExecutionCount > 0 {
			cell.ExecutionCount = reply.ExecutionCount
		}
		return reply.Status == wire.StatusOK, nil
	}
	return true, nil
}

// applyAndRender records a broadcast on the cell and echoes its
// rendered form to stdout.
func applyAndRender(cell *notebook.Cell, content wire.Content, theme tui.Theme, width int, quiet bool) {
	before := len(cell.Outputs)
	cell.ApplyMessage(content)
	if quiet || len(cell.Outputs) <= before {
		return
	}
	rendered := notebookui.RenderOutput(cell.Outputs[len(cell.Outputs)-1], theme, width)
	if rendered != "" {
		fmt.Println(rendered)
	}
}

// answerStdin prompts the terminal for a kernel input_request and
// replies. Password prompts read without echo.
func answerStdin(ctx context.Context, session *kernel.Session, req wire.InputRequest) {
	fmt.Fprint(os.Stderr, req.Prompt)
	var value string
	if req.Password {
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err == nil {
			value = string(bytes)
		}
	} else {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err == nil {
			value = strings.TrimRight(line, "\n")
		}
	}
	session.RespondStdin(ctx, value)
}

// terminalWidth probes stdout, defaulting to 80 columns when piped.
func terminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}
