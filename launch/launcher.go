// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/thyone-project/thyone/kernel"
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

// reapTimeout bounds the wait for a SIGKILLed kernel to be reaped.
const reapTimeout = 2 * time.Second

// Options adjust how kernel processes are run.
type Options struct {
	// Logger receives launch diagnostics and the kernel's own stdout
	// and stderr, line by line. Nil discards.
	Logger *slog.Logger

	// RuntimeDir is where connection files are written. Empty uses
	// RuntimeDir().
	RuntimeDir string

	// Codec selects the payload encoding written into the connection
	// file. Empty means JSON.
	Codec string

	// ExtraEnv is added to the kernel's environment after the
	// kernelspec's own env block.
	ExtraEnv map[string]string
}

// Process runs a kernel from a kernelspec and implements
// kernel.Launcher for it. Each Launch writes a fresh connection file,
// starts the kernel in its own process group, and watches for exit;
// Shutdown reclaims the process with a SIGTERM then SIGKILL
// escalation of the whole group.
type Process struct {
	spec   Spec
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan error
	connFile string
}

var _ kernel.Launcher = (*Process)(nil)

// NewProcess returns a launcher for the given kernelspec.
func NewProcess(spec Spec, opts Options) *Process {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Process{
		spec:   spec,
		opts:   opts,
		logger: logger.With("kernel", spec.Name),
	}
}

// RuntimeDir returns the default directory for connection files:
// $XDG_RUNTIME_DIR/thyone, or a per-user directory under the system
// temp directory when unset.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "thyone")
	}
	return filepath.Join(os.TempDir(), "thyone-"+strconv.Itoa(os.Getuid()))
}

// Launch writes a connection file, starts the kernel process, and
// returns the descriptor for dialing it. The context bounds only the
// launch itself; the process runs until Shutdown or its own exit.
func (p *Process) Launch(ctx context.Context) (*transport.ConnectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	codec := p.opts.Codec
	if codec == "" {
		codec = wire.JSON.Name()
	}
	info, err := transport.NewConnectInfo(codec)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	info.KernelName = p.spec.Name
	if err := info.AllocatePorts(); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	runtimeDir := p.opts.RuntimeDir
	if runtimeDir == "" {
		runtimeDir = RuntimeDir()
	}
	if err := os.MkdirAll(runtimeDir, 0o700); err != nil {
		return nil, fmt.Errorf("launch: creating runtime directory: %w", err)
	}
	connFile := filepath.Join(runtimeDir, "kernel-"+wire.NewID()+".json")
	if err := transport.WriteConnectionFile(connFile, info); err != nil {
		return nil, err
	}

	argv, err := p.spec.CommandLine(connFile)
	if err != nil {
		os.Remove(connFile)
		return nil, err
	}

	// Plain Command, not CommandContext: the process must outlive the
	// launch context. A process group isolates the kernel and its
	// children for signal delivery.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for _, name := range slices.Sorted(maps.Keys(p.spec.Env)) {
		cmd.Env = append(cmd.Env, name+"="+p.spec.Env[name])
	}
	for _, name := range slices.Sorted(maps.Keys(p.opts.ExtraEnv)) {
		cmd.Env = append(cmd.Env, name+"="+p.opts.ExtraEnv[name])
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(connFile)
		return nil, fmt.Errorf("launch: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(connFile)
		return nil, fmt.Errorf("launch: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		os.Remove(connFile)
		return nil, fmt.Errorf("launch: starting %q: %w", argv[0], err)
	}
	p.logger.Info("kernel launched", "pid", cmd.Process.Pid, "connection_file", connFile)

	var pipes sync.WaitGroup
	pipes.Add(2)
	go p.logOutput(stdout, "stdout", &pipes)
	go p.logOutput(stderr, "stderr", &pipes)

	// Closed after the exit result is delivered so that a second
	// receive (the session and Shutdown may both be waiting) returns
	// instead of blocking.
	exited := make(chan error, 1)
	go func() {
		pipes.Wait()
		err := cmd.Wait()
		if err != nil {
			p.logger.Warn("kernel exited", "pid", cmd.Process.Pid, "error", err)
		} else {
			p.logger.Info("kernel exited", "pid", cmd.Process.Pid)
		}
		os.Remove(connFile)
		exited <- err
		close(exited)
	}()

	p.mu.Lock()
	p.cmd = cmd
	p.exited = exited
	p.connFile = connFile
	p.mu.Unlock()

	return &info, nil
}

// logOutput forwards one of the kernel's output streams to the log,
// line by line.
func (p *Process) logOutput(r io.Reader, stream string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.logger.Debug("kernel output", "stream", stream, "line", scanner.Text())
	}
}

// Interrupt sends SIGINT to the kernel's process group. It reports
// false when the kernelspec asks for message-mode interrupts or when
// no process is owned, letting the session fall back to the control
// channel.
func (p *Process) Interrupt() bool {
	if p.spec.InterruptMode == "message" {
		return false
	}
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGINT); err != nil {
		p.logger.Debug("interrupt signal failed", "pid", cmd.Process.Pid, "error", err)
		return false
	}
	return true
}

// Shutdown reclaims the kernel process: SIGTERM to the group, then
// SIGKILL when the context expires before it exits. A no-op when no
// process is owned.
func (p *Process) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.cmd = nil
	p.connFile = ""
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	group := -cmd.Process.Pid
	if err := unix.Kill(group, unix.SIGTERM); err != nil {
		// Group already gone; wait out the reap.
		select {
		case <-exited:
		case <-time.After(reapTimeout):
		}
		return nil
	}
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
	}

	_ = unix.Kill(group, unix.SIGKILL)
	select {
	case <-exited:
		return nil
	case <-time.After(reapTimeout):
		return fmt.Errorf("launch: kernel process %d survived SIGKILL", cmd.Process.Pid)
	}
}

// Exited returns the exit channel for the most recent Launch, nil
// before the first.
func (p *Process) Exited() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ConnectionFile returns the path written by the most recent Launch,
// empty once the process has been shut down.
func (p *Process) ConnectionFile() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connFile
}
