// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thyone-project/thyone/lib/testutil"
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

func TestCommOpenSendClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.start()
	ctx := context.Background()

	received := make(chan wire.CommMsg, 4)
	closed := make(chan error, 1)
	comm, err := h.session.OpenComm(ctx, "widget", map[string]any{"kind": "slider"}, CommHandler{
		OnMessage: func(msg wire.CommMsg, buffers [][]byte) { received <- msg },
		OnClose:   func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("OpenComm: %v", err)
	}

	open := h.expectSend(conn, wire.TypeCommOpen)
	if open.channel != transport.ChannelShell {
		t.Fatalf("comm_open sent on %s, want %s", open.channel, transport.ChannelShell)
	}
	content := open.msg.Content.(wire.CommOpen)
	if content.CommID != comm.ID() || content.Target != "widget" {
		t.Fatalf("comm_open = %+v, want id %s target widget", content, comm.ID())
	}

	if err := comm.Send(ctx, map[string]any{"value": 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := h.expectSend(conn, wire.TypeCommMsg)
	if got := sent.msg.Content.(wire.CommMsg).CommID; got != comm.ID() {
		t.Fatalf("comm_msg id %q, want %q", got, comm.ID())
	}

	// Kernel-to-client traffic reaches the handler.
	conn.deliver(transport.ChannelIOPub, wire.NewMessage(wire.CommMsg{
		CommID: comm.ID(),
		Data:   map[string]any{"value": 4},
	}))
	if got := testutil.RequireReceive(t, received, waitFor, "comm message"); got.CommID != comm.ID() {
		t.Fatalf("handler got comm %q, want %q", got.CommID, comm.ID())
	}

	if err := comm.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	closeSent := h.expectSend(conn, wire.TypeCommClose)
	if got := closeSent.msg.Content.(wire.CommClose).CommID; got != comm.ID() {
		t.Fatalf("comm_close id %q, want %q", got, comm.ID())
	}
	if err := testutil.RequireReceive(t, closed, waitFor, "close notification"); err != nil {
		t.Fatalf("close notification = %v, want nil", err)
	}

	// Closed means closed.
	if err := comm.Send(ctx, nil); !errors.Is(err, ErrCommClosed) {
		t.Fatalf("Send after close = %v, want ErrCommClosed", err)
	}
	if err := comm.Close(ctx); err != nil {
		t.Fatalf("second Close = %v, want nil", err)
	}
}

func TestCommForceClosedOnDeath(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.start()
	ctx := context.Background()

	closed := make(chan error, 1)
	comm, err := h.session.OpenComm(ctx, "widget", nil, CommHandler{
		OnClose: func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("OpenComm: %v", err)
	}
	h.expectSend(conn, wire.TypeCommOpen)

	conn.fail(errors.New("wire torn"))
	h.waitDead()

	// The channel is told the session is gone; no comm_close goes out
	// on the dead wire.
	if err := testutil.RequireReceive(t, closed, waitFor, "close notification"); !errors.Is(err, ErrSessionLost) {
		t.Fatalf("close notification = %v, want ErrSessionLost", err)
	}
	testutil.RequireNoReceive(t, conn.sendC, 50*time.Millisecond, "comm_close on dead connection")
	if err := comm.Send(ctx, nil); !errors.Is(err, ErrCommClosed) {
		t.Fatalf("Send after death = %v, want ErrCommClosed", err)
	}
}

func TestCommForceClosedOnRestart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.start()
	ctx := context.Background()

	closed := make(chan error, 1)
	if _, err := h.session.OpenComm(ctx, "widget", nil, CommHandler{
		OnClose: func(err error) { closed <- err },
	}); err != nil {
		t.Fatalf("OpenComm: %v", err)
	}
	h.expectSend(conn, wire.TypeCommOpen)

	h.restart()
	if err := testutil.RequireReceive(t, closed, waitFor, "close notification"); !errors.Is(err, ErrSessionLost) {
		t.Fatalf("close notification = %v, want ErrSessionLost", err)
	}
}

func TestCommHeldWhileStarting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		errc <- h.session.Start(sctx)
	}()
	conn := testutil.RequireReceive(t, h.conns, waitFor, "kernel dial")
	info := h.expectSend(conn, wire.TypeKernelInfoRequest)

	// The handshake is still pending, so comm traffic is held.
	comm, err := h.session.OpenComm(ctx, "widget", nil, CommHandler{})
	if err != nil {
		t.Fatalf("OpenComm while starting: %v", err)
	}
	if err := comm.Send(ctx, map[string]any{"value": 1}); err != nil {
		t.Fatalf("Send while starting: %v", err)
	}
	testutil.RequireNoReceive(t, conn.sendC, 50*time.Millisecond, "comm traffic before ready")

	conn.reply(transport.ChannelShell, info.msg, wire.KernelInfoReply{
		Status:          wire.StatusOK,
		ProtocolVersion: "5.3",
		Implementation:  "fake",
		Language:        wire.LanguageInfo{Name: "python"},
	})
	conn.announce(wire.Status{State: wire.StateIdle})
	if err := testutil.RequireReceive(t, errc, waitFor, "start result"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Held traffic flushes in order once the kernel is ready.
	h.expectSend(conn, wire.TypeCommOpen)
	h.expectSend(conn, wire.TypeCommMsg)
}

func TestKernelOpenedComm(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.start()
	ctx := context.Background()

	received := make(chan wire.CommMsg, 4)
	closed := make(chan error, 1)
	err := h.session.RegisterCommTarget(ctx, "echo", func(comm *Comm, open wire.CommOpen) CommHandler {
		return CommHandler{
			OnMessage: func(msg wire.CommMsg, buffers [][]byte) { received <- msg },
			OnClose:   func(err error) { closed <- err },
		}
	})
	if err != nil {
		t.Fatalf("RegisterCommTarget: %v", err)
	}

	conn.deliver(transport.ChannelIOPub, wire.NewMessage(wire.CommOpen{
		CommID: "k-1",
		Target: "echo",
		Data:   map[string]any{"hello": true},
	}))
	comm := testutil.RequireReceive(t, h.commOpens, waitFor, "comm open notification")
	if comm.ID() != "k-1" || comm.Target() != "echo" {
		t.Fatalf("opened comm %s/%s, want k-1/echo", comm.ID(), comm.Target())
	}

	conn.deliver(transport.ChannelIOPub, wire.NewMessage(wire.CommMsg{CommID: "k-1", Data: map[string]any{"n": 1}}))
	testutil.RequireReceive(t, received, waitFor, "comm message")

	conn.deliver(transport.ChannelIOPub, wire.NewMessage(wire.CommClose{CommID: "k-1"}))
	if err := testutil.RequireReceive(t, closed, waitFor, "close notification"); err != nil {
		t.Fatalf("close notification = %v, want nil", err)
	}
	if err := comm.Send(ctx, nil); !errors.Is(err, ErrCommClosed) {
		t.Fatalf("Send after kernel close = %v, want ErrCommClosed", err)
	}
}

func TestCommOpenUnknownTargetRefused(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.start()

	conn.deliver(transport.ChannelIOPub, wire.NewMessage(wire.CommOpen{CommID: "k-9", Target: "nope"}))

	refusal := h.expectSend(conn, wire.TypeCommClose)
	if got := refusal.msg.Content.(wire.CommClose).CommID; got != "k-9" {
		t.Fatalf("refusal comm id %q, want k-9", got)
	}
	if got := h.session.Stats().CommErrors; got != 1 {
		t.Fatalf("Stats().CommErrors = %d, want 1", got)
	}
	testutil.RequireNoReceive(t, h.commOpens, 50*time.Millisecond, "comm open notification for refused target")
}

func TestCommTrafficForUnknownIDCounted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.start()
	ctx := context.Background()

	conn.deliver(transport.ChannelIOPub, wire.NewMessage(wire.CommMsg{CommID: "ghost"}))
	conn.deliver(transport.ChannelIOPub, wire.NewMessage(wire.CommClose{CommID: "ghost"}))

	// Order the assertion behind the deliveries.
	exec, err := h.session.Execute(ctx, "1", Callbacks{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	sent := h.expectSend(conn, wire.TypeExecuteRequest)
	h.completeRequest(conn, sent.msg, okReply(1))
	waitResult(t, exec)

	if got := h.session.Stats().CommErrors; got != 2 {
		t.Fatalf("Stats().CommErrors = %d, want 2", got)
	}
}
