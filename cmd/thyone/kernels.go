// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/thyone-project/thyone/cmd/thyone/cli"
	"github.com/thyone-project/thyone/launch"
	"github.com/thyone-project/thyone/lib/config"
	"github.com/thyone-project/thyone/transport"
)

func kernelsCommand() *cli.Command {
	var configPath string
	var running bool

	makeFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("kernels", pflag.ContinueOnError)
		flagSet.StringVar(&configPath, "config", "", "configuration file")
		flagSet.BoolVar(&running, "running", false, "list running kernels (connection files) instead")
		return flagSet
	}

	return &cli.Command{
		Name:    "kernels",
		Summary: "List installed kernels",
		Description: `List the kernelspecs found on the configured search paths, or with
--running the connection files of kernels currently reachable in the
runtime directory.`,
		Usage: "thyone kernels [flags]",
		Flags: makeFlags,
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if running {
				return listRunning(cfg)
			}
			return listInstalled(cfg)
		},
	}
}

func listInstalled(cfg *config.Config) error {
	specs := launch.List(cfg.Kernel.SearchPaths)
	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "no kernels installed")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tLANGUAGE\tDIRECTORY")
	for _, spec := range specs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", spec.Name, spec.DisplayName, spec.Language, spec.Dir)
	}
	return tw.Flush()
}

func listRunning(cfg *config.Config) error {
	runtimeDir := cfg.Kernel.RuntimeDir
	if runtimeDir == "" {
		runtimeDir = launch.RuntimeDir()
	}
	files, err := transport.FindConnectionFiles(runtimeDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "no connection files in %s\n", runtimeDir)
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "CONNECTION FILE\tKERNEL\tCODEC\tSHELL ADDR")
	for _, file := range files {
		info, err := transport.ReadConnectionFile(file)
		if err != nil {
			fmt.Fprintf(tw, "%s\t(unreadable: %v)\t\t\n", file, err)
			continue
		}
		name := info.KernelName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", file, name, info.Codec, info.Addr(transport.ChannelShell))
	}
	return tw.Flush()
}
