// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// Listener is the kernel side of the transport: five TCP listeners,
// one per channel. It accepts one client at a time; after a client
// connection ends, Accept can be called again, which is how a client
// reconnects across a restart without a new descriptor.
type Listener struct {
	info      ConnectInfo
	logger    *slog.Logger
	listeners [ChannelHeartbeat + 1]net.Listener

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds every channel port in the descriptor. Ports that are
// zero are bound ephemerally and written back, so callers can listen
// first and persist the completed descriptor afterwards.
func Listen(info ConnectInfo, logger *slog.Logger) (*Listener, error) {
	if info.Transport != "tcp" {
		return nil, fmt.Errorf("transport: unsupported transport %q", info.Transport)
	}
	if _, err := info.signer(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	listener := &Listener{
		info:   info,
		logger: logger,
		closed: make(chan struct{}),
	}
	for channel := ChannelShell; channel <= ChannelHeartbeat; channel++ {
		bound, err := net.Listen("tcp", listener.info.Addr(channel))
		if err != nil {
			listener.Close()
			return nil, fmt.Errorf("transport: binding %s channel: %w", channel, err)
		}
		listener.listeners[channel] = bound
		listener.info.setPort(channel, bound.Addr().(*net.TCPAddr).Port)
	}
	logger.Debug("kernel transport listening",
		"ip", listener.info.IP,
		"shell_port", listener.info.ShellPort,
		"hb_port", listener.info.HeartbeatPort,
	)
	return listener, nil
}

// Info returns the descriptor with the actual bound ports filled in.
func (l *Listener) Info() ConnectInfo {
	return l.info
}

// Accept waits for a client to connect on every channel and returns
// the kernel-side connection. The heartbeat echo loop runs until that
// client disconnects. Accept blocks until a complete client arrives,
// the context is cancelled, or the listener is closed.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	type accepted struct {
		channel Channel
		conn    net.Conn
		err     error
	}

	results := make(chan accepted, int(ChannelHeartbeat)+1)
	for channel := ChannelShell; channel <= ChannelHeartbeat; channel++ {
		go func(channel Channel) {
			conn, err := l.listeners[channel].Accept()
			results <- accepted{channel: channel, conn: conn, err: err}
		}(channel)
	}

	var streams [len(messageChannels)]net.Conn
	var heartbeat net.Conn
	var firstErr error
	closeAll := func() {
		for _, conn := range streams {
			if conn != nil {
				conn.Close()
			}
		}
		if heartbeat != nil {
			heartbeat.Close()
		}
	}

	remaining := int(ChannelHeartbeat) + 1
	for remaining > 0 {
		select {
		case result := <-results:
			remaining--
			switch {
			case result.err != nil:
				if firstErr == nil {
					firstErr = result.err
				}
			case result.channel == ChannelHeartbeat:
				heartbeat = result.conn
			default:
				streams[result.channel] = result.conn
			}
		case <-ctx.Done():
			// Drain the accept goroutines in the background; any
			// connections they produce are stray and closed.
			go func(pending int) {
				for ; pending > 0; pending-- {
					if result := <-results; result.conn != nil {
						result.conn.Close()
					}
				}
			}(remaining)
			closeAll()
			return nil, ctx.Err()
		}
	}
	if firstErr != nil {
		closeAll()
		select {
		case <-l.closed:
			return nil, ErrClosed
		default:
		}
		return nil, fmt.Errorf("transport: accepting client: %w", firstErr)
	}

	conn, err := newConn(streams, heartbeat, l.info, l.logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	go echoHeartbeat(heartbeat)
	l.logger.Debug("client connected")
	return conn, nil
}

// Close shuts the channel listeners down. Connections already accepted
// are unaffected.
func (l *Listener) Close() error {
	var firstErr error
	l.closeOnce.Do(func() {
		close(l.closed)
		for _, listener := range l.listeners {
			if listener == nil {
				continue
			}
			if err := listener.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// echoHeartbeat mirrors heartbeat bytes back to the client until the
// socket closes. The client treats a completed echo as proof of life.
// The copy's terminal error carries no information beyond "client
// disconnected", so it is discarded.
func echoHeartbeat(conn net.Conn) {
	_, _ = io.Copy(conn, conn)
}
