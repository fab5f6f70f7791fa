// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thyone-project/thyone/lib/clock"
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

// Conn is the connection surface the session drives. *transport.Conn
// implements it; engine tests substitute an in-memory fake.
type Conn interface {
	Send(ctx context.Context, channel transport.Channel, message wire.Message) error
	Deliveries() <-chan transport.Delivery
	Ping(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

var _ Conn = (*transport.Conn)(nil)

// DialFunc opens a connection to the kernel described by info.
type DialFunc func(ctx context.Context, info *transport.ConnectInfo) (Conn, error)

// Launcher provisions the kernel behind a session. Implementations
// either spawn and own a kernel process, or attach to one that is
// already running (see Attach).
type Launcher interface {
	// Launch makes the kernel reachable and returns its connection
	// descriptor. Called once per Start and again on every Restart.
	Launch(ctx context.Context) (*transport.ConnectInfo, error)

	// Interrupt delivers an out-of-band interrupt to the kernel
	// process, reporting whether it did. When it reports false the
	// session falls back to an interrupt_request message on the
	// control channel.
	Interrupt() bool

	// Shutdown reclaims the kernel process after the protocol-level
	// shutdown exchange, escalating as needed. A no-op when no process
	// is owned.
	Shutdown(ctx context.Context) error

	// Exited returns a channel that delivers the process exit result
	// for the most recent Launch, or nil when no process is owned.
	Exited() <-chan error
}

// Attach returns a Launcher for a kernel that is already running,
// reachable through the given descriptor. It owns no process: Launch
// hands back the descriptor, interrupts fall back to protocol
// messages, and Shutdown leaves the kernel alone.
func Attach(info *transport.ConnectInfo) Launcher {
	return attachLauncher{info: info}
}

type attachLauncher struct {
	info *transport.ConnectInfo
}

func (a attachLauncher) Launch(context.Context) (*transport.ConnectInfo, error) {
	return a.info, nil
}

func (attachLauncher) Interrupt() bool { return false }

func (attachLauncher) Shutdown(context.Context) error { return nil }

func (attachLauncher) Exited() <-chan error { return nil }

// Defaults for Config fields left zero.
const (
	DefaultQueueLimit        = 256
	DefaultStartupTimeout    = 30 * time.Second
	DefaultLaunchAttempts    = 3
	DefaultHeartbeatInterval = time.Second
	DefaultHeartbeatMisses   = 3
	DefaultShutdownGrace     = 5 * time.Second

	// sendTimeout bounds one socket write so a wedged kernel cannot
	// stall the run loop.
	sendTimeout = 10 * time.Second
)

// Config assembles a Session. Launcher is required; everything else
// has a working default.
type Config struct {
	// Launcher provisions the kernel. Required.
	Launcher Launcher

	// Monitor receives session-wide events.
	Monitor Monitor

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	// Clock defaults to the real clock. Tests inject a fake to drive
	// timeouts and the heartbeat deterministically.
	Clock clock.Clock

	// Dial defaults to the transport dialer.
	Dial DialFunc

	// QueueLimit bounds the execution queue. Zero means
	// DefaultQueueLimit; a negative value removes the bound.
	QueueLimit int

	// StartupTimeout bounds the whole Start or Restart operation,
	// launch attempts included.
	StartupTimeout time.Duration

	// LaunchAttempts is how many times a failed launch or dial is
	// retried within the startup timeout.
	LaunchAttempts int

	// HeartbeatInterval is the ping cadence once the kernel is ready.
	HeartbeatInterval time.Duration

	// HeartbeatMisses is how many consecutive failed pings declare the
	// kernel dead.
	HeartbeatMisses int

	// ShutdownGrace is how long Shutdown waits for the kernel to
	// acknowledge before reclaiming the process.
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() (Config, error) {
	if c.Launcher == nil {
		return c, fmt.Errorf("kernel: config has no launcher")
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Dial == nil {
		logger := c.Logger
		c.Dial = func(ctx context.Context, info *transport.ConnectInfo) (Conn, error) {
			dialer := transport.Dialer{Logger: logger}
			conn, err := dialer.Dial(ctx, *info)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
	switch {
	case c.QueueLimit == 0:
		c.QueueLimit = DefaultQueueLimit
	case c.QueueLimit < 0:
		// Negative disables the bound; the queue treats zero as
		// unlimited.
		c.QueueLimit = 0
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.LaunchAttempts <= 0 {
		c.LaunchAttempts = DefaultLaunchAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatMisses <= 0 {
		c.HeartbeatMisses = DefaultHeartbeatMisses
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c, nil
}
