// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/thyone-project/thyone/history"
	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/launch"
	"github.com/thyone-project/thyone/lib/config"
	"github.com/thyone-project/thyone/lib/notebookui"
	"github.com/thyone-project/thyone/lib/tui"
	"github.com/thyone-project/thyone/transport"
)

// sessionOptions are the shared flags of the kernel-backed commands.
type sessionOptions struct {
	configPath string
	kernelName string
	existing   string
	codec      string
}

// openedSession bundles everything a command needs to talk to one
// kernel, with a Close that tears it all down.
type openedSession struct {
	cfg     *config.Config
	session *kernel.Session
	driver  *sessionDriver
	store   *history.Store // nil when disabled
	logger  *slog.Logger
	theme   tui.Theme

	// kernelName labels the status bar until the kernel reports its
	// own identity.
	kernelName string
}

// openSession loads configuration, resolves the kernel, opens the
// history store, and starts the session. The caller owns the result
// and must call Close.
func openSession(ctx context.Context, opts sessionOptions, logger *slog.Logger) (*openedSession, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	theme := tui.Named(cfg.UI.Theme)

	codec := opts.codec
	if codec == "" {
		codec = cfg.Kernel.Codec
	}

	var (
		launcher   kernel.Launcher
		kernelName string
	)
	if opts.existing != "" {
		info, path, err := resolveExisting(opts.existing, cfg)
		if err != nil {
			return nil, err
		}
		launcher = kernel.Attach(&info)
		kernelName = filepath.Base(path)
	} else {
		spec, err := resolveKernelSpec(cfg, opts.kernelName, theme)
		if err != nil {
			return nil, err
		}
		kernelName = spec.DisplayName
		launcher = launch.NewProcess(spec, launch.Options{
			Logger:     logger,
			RuntimeDir: cfg.Kernel.RuntimeDir,
			Codec:      codec,
		})
	}

	var store *history.Store
	if !cfg.History.Disable {
		store, err = history.Open(cfg.History.Path, logger)
		if err != nil {
			// History is a convenience; a broken database should not
			// keep the console from starting.
			logger.Warn("opening history database", "path", cfg.History.Path, "error", err)
			store = nil
		}
	}

	driver := &sessionDriver{store: store, logger: logger}
	session, err := kernel.New(kernel.Config{
		Launcher:          launcher,
		Monitor:           driver.monitor(),
		Logger:            logger,
		QueueLimit:        cfg.Kernel.QueueLimit,
		StartupTimeout:    cfg.Kernel.StartupTimeoutDuration(),
		LaunchAttempts:    cfg.Kernel.LaunchAttempts,
		HeartbeatInterval: cfg.Kernel.HeartbeatIntervalDuration(),
		HeartbeatMisses:   cfg.Kernel.HeartbeatMisses,
		ShutdownGrace:     cfg.Kernel.ShutdownGraceDuration(),
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	driver.session = session

	fmt.Fprintf(os.Stderr, "starting kernel %s...\n", kernelName)
	if err := session.Start(ctx); err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	return &openedSession{
		cfg:        cfg,
		session:    session,
		driver:     driver,
		store:      store,
		logger:     logger,
		theme:      theme,
		kernelName: kernelName,
	}, nil
}

// Close shuts the kernel down gracefully and releases the history
// store.
func (s *openedSession) Close(ctx context.Context) error {
	err := s.session.Shutdown(ctx)
	if s.store != nil {
		if closeErr := s.store.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// resolveKernelSpec maps a --kernel value to a kernelspec: the named
// spec, the configured default, or an interactive fuzzy pick when the
// name is empty.
func resolveKernelSpec(cfg *config.Config, name string, theme tui.Theme) (launch.Spec, error) {
	paths := cfg.Kernel.SearchPaths
	if name == "" {
		name = cfg.Kernel.Default
	}
	if name != "" {
		return launch.Find(name, paths)
	}
	return pickKernelSpec(paths, theme)
}

// pickKernelSpec runs the fuzzy picker over the installed kernelspecs.
func pickKernelSpec(paths []string, theme tui.Theme) (launch.Spec, error) {
	specs := launch.List(paths)
	if len(specs) == 0 {
		return launch.Spec{}, errors.New("no kernels installed")
	}
	if len(specs) == 1 {
		return specs[0], nil
	}

	items := make([]notebookui.PickerItem, len(specs))
	for i, spec := range specs {
		items[i] = notebookui.PickerItem{
			Name:        spec.Name,
			DisplayName: spec.DisplayName,
			Language:    spec.Language,
		}
	}
	model := notebookui.NewPicker(items, theme)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return launch.Spec{}, fmt.Errorf("kernel picker: %w", err)
	}
	picker := final.(notebookui.PickerModel)
	if picker.Canceled || picker.Choice == nil {
		return launch.Spec{}, errors.New("no kernel selected")
	}
	for _, spec := range specs {
		if spec.Name == picker.Choice.Name {
			return spec, nil
		}
	}
	return launch.Spec{}, &launch.NotFoundError{Name: picker.Choice.Name, Searched: paths}
}

// resolveExisting maps an --existing value to a connection descriptor:
// an explicit file path, or "newest" for the most recently written
// connection file in the runtime directory.
func resolveExisting(value string, cfg *config.Config) (transport.ConnectInfo, string, error) {
	path := value
	if value == "newest" {
		runtimeDir := cfg.Kernel.RuntimeDir
		if runtimeDir == "" {
			runtimeDir = launch.RuntimeDir()
		}
		files, err := transport.FindConnectionFiles(runtimeDir)
		if err != nil {
			return transport.ConnectInfo{}, "", err
		}
		if len(files) == 0 {
			return transport.ConnectInfo{}, "", fmt.Errorf("no connection files in %s", runtimeDir)
		}
		path = files[0]
	}
	info, err := transport.ReadConnectionFile(path)
	if err != nil {
		return transport.ConnectInfo{}, "", err
	}
	return info, path, nil
}
