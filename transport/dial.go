// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Dialer connects to a listening kernel described by a connection
// descriptor. The zero value is usable.
type Dialer struct {
	// Timeout bounds each channel's TCP dial. Zero means 10 seconds.
	// The context passed to Dial can impose a shorter overall bound.
	Timeout time.Duration

	// Logger receives connection-level diagnostics. Nil discards.
	Logger *slog.Logger
}

// Dial establishes the client side of a kernel connection: all five
// channel sockets, in a fixed order so a kernel that accepts serially
// (the bundled mock does) pairs them correctly. Any single failure
// closes the sockets dialed so far and fails the whole connection.
func (d Dialer) Dial(ctx context.Context, info ConnectInfo) (*Conn, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	netDialer := net.Dialer{Timeout: timeout}

	var opened []net.Conn
	closeOpened := func() {
		for _, conn := range opened {
			conn.Close()
		}
	}

	dialChannel := func(channel Channel) (net.Conn, error) {
		conn, err := netDialer.DialContext(ctx, "tcp", info.Addr(channel))
		if err != nil {
			return nil, fmt.Errorf("transport: dialing %s channel: %w", channel, err)
		}
		opened = append(opened, conn)
		return conn, nil
	}

	var streams [len(messageChannels)]net.Conn
	for _, channel := range messageChannels {
		conn, err := dialChannel(channel)
		if err != nil {
			closeOpened()
			return nil, err
		}
		streams[channel] = conn
	}
	heartbeat, err := dialChannel(ChannelHeartbeat)
	if err != nil {
		closeOpened()
		return nil, err
	}

	conn, err := newConn(streams, heartbeat, info, d.Logger)
	if err != nil {
		closeOpened()
		return nil, err
	}
	if d.Logger != nil {
		d.Logger.Debug("kernel connection established",
			"ip", info.IP,
			"shell_port", info.ShellPort,
			"codec", info.Codec,
		)
	}
	return conn, nil
}
