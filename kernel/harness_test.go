// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thyone-project/thyone/lib/clock"
	"github.com/thyone-project/thyone/lib/testutil"
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

const waitFor = 2 * time.Second

// fakeConn is an in-memory Conn. The test plays the kernel: it reads
// what the session sent from sendC and pushes deliveries back.
type fakeConn struct {
	sendC      chan sentMessage
	deliveries chan transport.Delivery
	done       chan struct{}
	pings      chan struct{}

	mu      sync.Mutex
	err     error
	pingErr error
	closed  bool
}

type sentMessage struct {
	channel transport.Channel
	msg     wire.Message
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sendC:      make(chan sentMessage, 64),
		deliveries: make(chan transport.Delivery, 64),
		done:       make(chan struct{}),
		pings:      make(chan struct{}, 64),
	}
}

func (c *fakeConn) Send(ctx context.Context, channel transport.Channel, msg wire.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("connection closed")
	}
	c.sendC <- sentMessage{channel: channel, msg: msg}
	return nil
}

func (c *fakeConn) Deliveries() <-chan transport.Delivery { return c.deliveries }

func (c *fakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	err := c.pingErr
	c.mu.Unlock()
	select {
	case c.pings <- struct{}{}:
	default:
	}
	return err
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

// fail simulates the transport dying underneath the session: the
// delivery stream ends and Err reports the cause.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	c.mu.Unlock()
	close(c.done)
	close(c.deliveries)
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *fakeConn) deliver(channel transport.Channel, msg wire.Message) {
	c.deliveries <- transport.Delivery{Channel: channel, Message: msg}
}

// reply delivers a child of parent on the given channel.
func (c *fakeConn) reply(channel transport.Channel, parent wire.Message, content wire.Content) wire.Message {
	msg := wire.NewReply(parent, content)
	c.deliver(channel, msg)
	return msg
}

// announce delivers a parentless iopub message.
func (c *fakeConn) announce(content wire.Content) {
	c.deliver(transport.ChannelIOPub, wire.NewMessage(content))
}

// fakeLauncher hands out connection descriptors with no process
// behind them and counts lifecycle calls.
type fakeLauncher struct {
	mu         sync.Mutex
	launches   int
	failNext   int
	interrupt  bool
	interrupts int
	shutdowns  int
	exited     chan error
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{exited: make(chan error, 1)}
}

func (l *fakeLauncher) Launch(ctx context.Context) (*transport.ConnectInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.failNext > 0 {
		l.failNext--
		return nil, errors.New("spawn failed")
	}
	return &transport.ConnectInfo{Transport: "tcp", IP: "127.0.0.1"}, nil
}

func (l *fakeLauncher) Interrupt() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interrupts++
	return l.interrupt
}

func (l *fakeLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdowns++
	return nil
}

func (l *fakeLauncher) Exited() <-chan error { return l.exited }

func (l *fakeLauncher) counts() (launches, interrupts, shutdowns int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches, l.interrupts, l.shutdowns
}

// harness wires a Session to a fake clock, launcher, and connections.
type harness struct {
	t        *testing.T
	session  *Session
	launcher *fakeLauncher
	clk      *clock.FakeClock

	conns     chan *fakeConn
	states    chan State
	deaths    chan error
	announced chan wire.ExecutionState
	commOpens chan *Comm
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		launcher:  newFakeLauncher(),
		clk:       clock.NewFake(time.Unix(1700000000, 0)),
		conns:     make(chan *fakeConn, 4),
		states:    make(chan State, 64),
		deaths:    make(chan error, 4),
		announced: make(chan wire.ExecutionState, 64),
		commOpens: make(chan *Comm, 4),
	}
	cfg := Config{
		Launcher: h.launcher,
		Clock:    h.clk,
		Dial: func(ctx context.Context, info *transport.ConnectInfo) (Conn, error) {
			conn := newFakeConn()
			h.conns <- conn
			return conn, nil
		},
		Monitor: Monitor{
			OnState: func(state State) { h.states <- state },
			OnKernelStatus: func(state wire.ExecutionState) {
				select {
				case h.announced <- state:
				default:
				}
			},
			OnCommOpen: func(comm *Comm) { h.commOpens <- comm },
			OnDead:     func(err error) { h.deaths <- err },
		},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	session, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.session = session

	// Tear the session down at test end, advancing the fake clock so
	// a pending shutdown grace period can elapse.
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- session.Shutdown(ctx) }()
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				h.clk.Advance(DefaultShutdownGrace)
			}
		}
	})
	return h
}

// start drives Start through the ready handshake and returns the live
// connection.
func (h *harness) start() *fakeConn {
	h.t.Helper()
	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		errc <- h.session.Start(ctx)
	}()
	conn := testutil.RequireReceive(h.t, h.conns, waitFor, "kernel dial")
	h.finishHandshake(conn)
	if err := testutil.RequireReceive(h.t, errc, waitFor, "start result"); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	return conn
}

// restart drives Restart through the ready handshake on a fresh
// connection.
func (h *harness) restart() *fakeConn {
	h.t.Helper()
	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		errc <- h.session.Restart(ctx)
	}()
	conn := testutil.RequireReceive(h.t, h.conns, waitFor, "kernel redial")
	h.finishHandshake(conn)
	if err := testutil.RequireReceive(h.t, errc, waitFor, "restart result"); err != nil {
		h.t.Fatalf("Restart: %v", err)
	}
	return conn
}

// finishHandshake answers the kernel_info request and reports idle.
func (h *harness) finishHandshake(conn *fakeConn) {
	h.t.Helper()
	info := h.expectSend(conn, wire.TypeKernelInfoRequest)
	conn.reply(transport.ChannelShell, info.msg, wire.KernelInfoReply{
		Status:          wire.StatusOK,
		ProtocolVersion: "5.3",
		Implementation:  "fake",
		Language:        wire.LanguageInfo{Name: "python", Version: "3.12"},
	})
	conn.announce(wire.Status{State: wire.StateIdle})
}

// expectSend receives the next message the session sent and asserts
// its type.
func (h *harness) expectSend(conn *fakeConn, messageType wire.MessageType) sentMessage {
	h.t.Helper()
	sent := testutil.RequireReceive(h.t, conn.sendC, waitFor, "sent message")
	if got := sent.msg.Type(); got != messageType {
		h.t.Fatalf("session sent %s, want %s", got, messageType)
	}
	return sent
}

// completeRequest plays the kernel's side of one shell round trip:
// busy, the terminal reply, then idle, all parented to req.
func (h *harness) completeRequest(conn *fakeConn, req wire.Message, reply wire.Content) {
	h.t.Helper()
	conn.reply(transport.ChannelIOPub, req, wire.Status{State: wire.StateBusy})
	conn.reply(transport.ChannelShell, req, reply)
	conn.reply(transport.ChannelIOPub, req, wire.Status{State: wire.StateIdle})
}

// waitState consumes monitor state changes until want appears.
func (h *harness) waitState(want State) {
	h.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case got := <-h.states:
			if got == want {
				return
			}
		case <-deadline:
			h.t.Fatalf("state %s never reached, session is %s", want, h.session.State())
		}
	}
}

// waitDead waits for the monitor's death notification.
func (h *harness) waitDead() error {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.deaths, waitFor, "death notification")
}

func waitResult(t *testing.T, exec *Execution) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	result, err := exec.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return result
}

func okReply(count int) wire.ExecuteReply {
	return wire.ExecuteReply{Status: wire.StatusOK, ExecutionCount: count}
}
