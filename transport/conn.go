// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/thyone-project/thyone/wire"
)

// ErrClosed is returned by operations on a connection that has been
// closed, locally or by failure.
var ErrClosed = errors.New("transport: connection closed")

// deliveryBuffer is the capacity of the fan-in delivery channel. It
// absorbs bursts (a busy kernel streaming output) without blocking
// socket readers while the consumer processes a message.
const deliveryBuffer = 32

// defaultPingTimeout bounds a heartbeat round-trip when the caller's
// context carries no deadline.
const defaultPingTimeout = 3 * time.Second

// Delivery is one inbound message tagged with the channel it arrived
// on.
type Delivery struct {
	Channel Channel
	Message wire.Message
}

// Conn is one side of a kernel connection: four message channels and a
// heartbeat stream. Messages from all channels are funneled into a
// single delivery stream so the consumer observes one order. Within a
// channel, delivery order is transmission order; across channels no
// order is implied.
//
// Send is safe for concurrent use. Deliveries has a single logical
// consumer.
type Conn struct {
	codec  wire.Codec
	signer *wire.Signer
	logger *slog.Logger

	// streams is indexed by Channel for the four message channels.
	streams [len(messageChannels)]*channelStream

	heartbeat   net.Conn
	heartbeatMu sync.Mutex

	deliveries chan Delivery
	readers    sync.WaitGroup

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	errMu sync.Mutex
	err   error
}

// channelStream is one message channel's socket with its buffered
// reader and write lock.
type channelStream struct {
	channel Channel
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// newConn assembles a connection from accepted or dialed sockets and
// starts the reader goroutines. The streams array is indexed by
// Channel order: shell, iopub, stdin, control.
func newConn(streams [len(messageChannels)]net.Conn, heartbeat net.Conn, info ConnectInfo, logger *slog.Logger) (*Conn, error) {
	codec, err := wire.CodecByName(info.Codec)
	if err != nil {
		return nil, err
	}
	signer, err := info.signer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn := &Conn{
		codec:      codec,
		signer:     signer,
		logger:     logger,
		heartbeat:  heartbeat,
		deliveries: make(chan Delivery, deliveryBuffer),
		closed:     make(chan struct{}),
	}
	for _, channel := range messageChannels {
		conn.streams[channel] = &channelStream{
			channel: channel,
			conn:    streams[channel],
			reader:  bufio.NewReader(streams[channel]),
		}
	}

	conn.readers.Add(len(conn.streams))
	for _, stream := range conn.streams {
		go conn.readLoop(stream)
	}
	go func() {
		conn.readers.Wait()
		close(conn.deliveries)
	}()

	return conn, nil
}

// Deliveries returns the fan-in stream of inbound messages. The
// channel closes when the connection ends for any reason; Err then
// reports the cause, nil for a local Close.
func (c *Conn) Deliveries() <-chan Delivery {
	return c.deliveries
}

// Done returns a channel closed when the connection ends, whether by
// local Close or by failure.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err returns the failure that ended the connection, or nil if the
// connection is live or was closed locally.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send encodes, signs, and transmits a message on the given channel.
// The context's deadline, if any, bounds the socket write.
func (c *Conn) Send(ctx context.Context, channel Channel, message wire.Message) error {
	if int(channel) < 0 || int(channel) >= len(c.streams) {
		return fmt.Errorf("transport: cannot send on %s channel", channel)
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	envelope, err := c.codec.Marshal(message)
	if err != nil {
		return err
	}

	stream := c.streams[channel]
	stream.writeMu.Lock()
	defer stream.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := stream.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("transport: %s write deadline: %w", channel, err)
	}
	if err := wire.WriteFrame(stream.conn, c.signer, envelope); err != nil {
		return fmt.Errorf("transport: %s: %w", channel, err)
	}
	return nil
}

// Ping performs one heartbeat round-trip: an 8-byte nonce is written
// and must be echoed back verbatim. Only the dialing side pings; the
// accepting side runs the echo loop.
func (c *Conn) Ping(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.heartbeatMu.Lock()
	defer c.heartbeatMu.Unlock()

	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("transport: heartbeat nonce: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultPingTimeout)
	}
	if err := c.heartbeat.SetDeadline(deadline); err != nil {
		return fmt.Errorf("transport: heartbeat deadline: %w", err)
	}
	if _, err := c.heartbeat.Write(nonce[:]); err != nil {
		return fmt.Errorf("transport: heartbeat write: %w", err)
	}
	var echo [8]byte
	if _, err := io.ReadFull(c.heartbeat, echo[:]); err != nil {
		return fmt.Errorf("transport: heartbeat read: %w", err)
	}
	if echo != nonce {
		return fmt.Errorf("transport: heartbeat echo mismatch")
	}
	return nil
}

// Close tears down all sockets. Safe to call multiple times and
// concurrently with Send/Ping; in-flight reads unblock and the
// delivery channel drains then closes.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		for _, stream := range c.streams {
			if err := stream.conn.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
		if err := c.heartbeat.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// readLoop decodes frames from one channel socket into the delivery
// stream until the socket fails or the connection closes.
func (c *Conn) readLoop(stream *channelStream) {
	defer c.readers.Done()
	for {
		envelope, err := wire.ReadFrame(stream.reader, c.signer)
		if err != nil {
			c.fail(stream.channel, err)
			return
		}
		message, err := c.codec.Unmarshal(envelope)
		if err != nil {
			c.fail(stream.channel, err)
			return
		}
		select {
		case c.deliveries <- Delivery{Channel: stream.channel, Message: message}:
		case <-c.closed:
			return
		}
	}
}

// fail records the first failure, then closes the whole connection: a
// dead or untrustworthy channel poisons all of them. Errors caused by
// a local Close are not recorded.
func (c *Conn) fail(channel Channel, err error) {
	select {
	case <-c.closed:
		return
	default:
	}

	c.errMu.Lock()
	if c.err == nil {
		if errors.Is(err, io.EOF) {
			c.err = fmt.Errorf("transport: %s channel closed by peer", channel)
		} else {
			c.err = fmt.Errorf("transport: %s channel: %w", channel, err)
		}
		c.logger.Debug("connection failed", "channel", channel.String(), "error", err)
	}
	c.errMu.Unlock()

	c.Close()
}
