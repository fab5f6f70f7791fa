// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/thyone-project/thyone/wire"
)

// connPair establishes a loopback client/kernel connection pair with
// the given codec. Both ends are closed when the test finishes.
func connPair(t *testing.T, codecName string) (client, kernel *Conn) {
	t.Helper()

	info, err := NewConnectInfo(codecName)
	if err != nil {
		t.Fatalf("NewConnectInfo: %v", err)
	}
	listener, err := Listen(info, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	acceptDone := make(chan error, 1)
	go func() {
		var err error
		kernel, err = listener.Accept(ctx)
		acceptDone <- err
	}()

	client, err = Dialer{}.Dial(ctx, listener.Info())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := <-acceptDone; err != nil {
		t.Fatalf("Accept: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		kernel.Close()
	})
	return client, kernel
}

// receive waits for one delivery or fails the test.
func receive(t *testing.T, conn *Conn) Delivery {
	t.Helper()
	select {
	case delivery, ok := <-conn.Deliveries():
		if !ok {
			t.Fatalf("delivery channel closed: %v", conn.Err())
		}
		return delivery
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	panic("unreachable")
}

func TestRequestReplyAcrossChannels(t *testing.T) {
	t.Parallel()
	for _, codecName := range []string{"json", "cbor"} {
		t.Run(codecName, func(t *testing.T) {
			t.Parallel()
			client, kernel := connPair(t, codecName)
			ctx := context.Background()

			request := wire.NewMessage(wire.ExecuteRequest{Code: "1+1"})
			if err := client.Send(ctx, ChannelShell, request); err != nil {
				t.Fatalf("client Send: %v", err)
			}

			delivery := receive(t, kernel)
			if delivery.Channel != ChannelShell {
				t.Errorf("channel: got %s, want shell", delivery.Channel)
			}
			got, ok := delivery.Message.Content.(wire.ExecuteRequest)
			if !ok {
				t.Fatalf("content is %T, want ExecuteRequest", delivery.Message.Content)
			}
			if got.Code != "1+1" {
				t.Errorf("code: got %q, want %q", got.Code, "1+1")
			}

			// Reply on shell, broadcast on iopub.
			reply := wire.NewReply(delivery.Message, wire.ExecuteReply{Status: wire.StatusOK, ExecutionCount: 1})
			if err := kernel.Send(ctx, ChannelShell, reply); err != nil {
				t.Fatalf("kernel Send shell: %v", err)
			}
			status := wire.NewReply(delivery.Message, wire.Status{State: wire.StateIdle})
			if err := kernel.Send(ctx, ChannelIOPub, status); err != nil {
				t.Fatalf("kernel Send iopub: %v", err)
			}

			seen := map[Channel]wire.MessageType{}
			for range 2 {
				delivery := receive(t, client)
				seen[delivery.Channel] = delivery.Message.Type()
				if delivery.Message.ParentID != request.ID {
					t.Errorf("%s parent: got %q, want %q", delivery.Channel, delivery.Message.ParentID, request.ID)
				}
			}
			if seen[ChannelShell] != wire.TypeExecuteReply {
				t.Errorf("shell delivery: got %s, want execute_reply", seen[ChannelShell])
			}
			if seen[ChannelIOPub] != wire.TypeStatus {
				t.Errorf("iopub delivery: got %s, want status", seen[ChannelIOPub])
			}
		})
	}
}

func TestPerChannelOrderPreserved(t *testing.T) {
	t.Parallel()
	client, kernel := connPair(t, "json")
	ctx := context.Background()

	const count = 20
	for i := range count {
		message := wire.NewMessage(wire.Stream{Name: "stdout", Text: string(rune('a' + i))})
		if err := kernel.Send(ctx, ChannelIOPub, message); err != nil {
			t.Fatalf("Send[%d]: %v", i, err)
		}
	}
	for i := range count {
		delivery := receive(t, client)
		content := delivery.Message.Content.(wire.Stream)
		if want := string(rune('a' + i)); content.Text != want {
			t.Fatalf("delivery[%d]: got %q, want %q", i, content.Text, want)
		}
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	client, _ := connPair(t, "json")
	for range 3 {
		if err := client.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	}
}

func TestPeerCloseEndsDeliveries(t *testing.T) {
	t.Parallel()
	client, kernel := connPair(t, "json")

	kernel.Close()

	select {
	case _, ok := <-client.Deliveries():
		if ok {
			t.Fatal("expected closed delivery channel, got a delivery")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery channel to close")
	}
	if client.Err() == nil {
		t.Error("Err: got nil, want peer-close error")
	}
	if err := client.Send(context.Background(), ChannelShell, wire.NewMessage(wire.KernelInfoRequest{})); err == nil {
		t.Error("Send after peer close: expected error")
	}
}

func TestLocalCloseReportsNoError(t *testing.T) {
	t.Parallel()
	client, _ := connPair(t, "json")

	client.Close()

	select {
	case _, ok := <-client.Deliveries():
		if ok {
			t.Fatal("expected closed delivery channel, got a delivery")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery channel to close")
	}
	if err := client.Err(); err != nil {
		t.Errorf("Err after local close: got %v, want nil", err)
	}
}

func TestKeyMismatchPoisonsConnection(t *testing.T) {
	t.Parallel()
	info, err := NewConnectInfo("json")
	if err != nil {
		t.Fatalf("NewConnectInfo: %v", err)
	}
	listener, err := Listen(info, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	acceptDone := make(chan *Conn, 1)
	go func() {
		conn, _ := listener.Accept(ctx)
		acceptDone <- conn
	}()

	// Dial with a descriptor whose key differs from the listener's.
	wrong := listener.Info()
	wrongKey, err := wire.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	wrong.Key = wrongKey

	client, err := Dialer{}.Dial(ctx, wrong)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	kernel := <-acceptDone
	if kernel == nil {
		t.Fatal("Accept returned no connection")
	}
	defer kernel.Close()

	if err := client.Send(ctx, ChannelShell, wire.NewMessage(wire.KernelInfoRequest{})); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The kernel must reject the frame and drop the connection rather
	// than deliver an unauthenticated message.
	select {
	case delivery, ok := <-kernel.Deliveries():
		if ok {
			t.Fatalf("got delivery %v, want closed channel", delivery.Message.Type())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for kernel connection to fail")
	}
	if kernel.Err() == nil {
		t.Error("kernel Err: got nil, want signature error")
	}
}
