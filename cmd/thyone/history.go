// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/thyone-project/thyone/cmd/thyone/cli"
	"github.com/thyone-project/thyone/history"
	"github.com/thyone-project/thyone/lib/config"
)

func historyCommand() *cli.Command {
	var configPath string
	var limit int

	makeFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
		flagSet.StringVar(&configPath, "config", "", "configuration file")
		flagSet.IntVar(&limit, "limit", 25, "maximum entries to show")
		return flagSet
	}

	return &cli.Command{
		Name:    "history",
		Summary: "Show execution history",
		Description: `Show recent submissions from the execution history database, oldest
first. With a pattern argument, show only submissions whose source
matches it (SQLite GLOB syntax, e.g. '*import*').`,
		Usage: "thyone history [pattern] [flags]",
		Flags: makeFlags,
		Examples: []cli.Example{
			{
				Description: "The last 25 submissions",
				Command:     "thyone history",
			},
			{
				Description: "Submissions that mention pandas",
				Command:     "thyone history '*pandas*'",
			},
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one pattern, got %d arguments", len(args))
			}
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			return showHistory(configPath, pattern, limit)
		},
	}
}

func showHistory(configPath, pattern string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.History.Disable {
		return fmt.Errorf("history recording is disabled in the configuration")
	}
	logger := cli.NewCommandLogger().With("command", "history")
	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	var entries []history.Entry
	if pattern == "" {
		entries, err = store.Tail(ctx, limit)
	} else {
		entries, err = store.Search(ctx, pattern, limit)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no history")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tIN\tSTATUS\tSOURCE")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
			entry.Started.Format("2006-01-02 15:04:05"),
			entry.Line,
			entry.Status,
			firstLine(entry.Source),
		)
	}
	return tw.Flush()
}

// firstLine collapses a multi-line submission for the table.
func firstLine(source string) string {
	line, rest, found := strings.Cut(source, "\n")
	if found && strings.TrimSpace(rest) != "" {
		return line + " …"
	}
	return line
}
