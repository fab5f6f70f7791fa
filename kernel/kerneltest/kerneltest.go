// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package kerneltest provides an in-process kernel for exercising
// sessions end to end: it speaks the full wire protocol over real TCP
// sockets and interprets a tiny line-oriented script language instead
// of a real interpreter. Integration tests and the bundled mock kernel
// binary are both built on it.
//
// Each line of submitted code is one directive, "verb:argument":
//
//	print:text       write text to stdout
//	stderr:text      write text to stderr
//	result:text      publish an execute_result with text/plain
//	display:text     publish display_data with text/plain
//	rich:MIME:data   publish display_data with the given MIME type
//	clear            clear accumulated output (clear:wait defers it)
//	error:Name:Value raise an error and fail the execution
//	sleep:duration   sleep, abandoning the execution when interrupted
//	input:prompt     request a line on the stdin channel and echo it
//	comm_open:target open a kernel-side comm against a client target
//
// A line with no verb is evaluated as integer arithmetic when it has
// the shape "a OP b"; anything else succeeds silently. The "echo" comm
// target answers every comm_msg by echoing its data back.
package kerneltest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thyone-project/thyone/lib/version"
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

const sendTimeout = 10 * time.Second

// Options configure the mock kernel.
type Options struct {
	// Logger receives kernel-side diagnostics. Nil discards.
	Logger *slog.Logger

	// Language is reported in kernel_info. Empty means "mock".
	Language string

	// InputTimeout bounds how long an input: directive waits for the
	// client's reply. Zero means 10 seconds.
	InputTimeout time.Duration
}

// Kernel is a mock kernel serving one client at a time. A client that
// disconnects, or shuts the kernel down with the restart flag, is
// replaced by accepting the next one; a plain shutdown ends the kernel.
type Kernel struct {
	listener *transport.Listener
	logger   *slog.Logger
	opts     Options

	mu      sync.Mutex
	count   int
	history []wire.HistoryItem

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Start binds the descriptor's ports (zero ports are bound ephemerally)
// and begins serving. The returned kernel's Info carries the actual
// ports.
func Start(info transport.ConnectInfo, opts Options) (*Kernel, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Language == "" {
		opts.Language = "mock"
	}
	if opts.InputTimeout <= 0 {
		opts.InputTimeout = 10 * time.Second
	}
	listener, err := transport.Listen(info, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("kerneltest: %w", err)
	}
	k := &Kernel{
		listener: listener,
		logger:   opts.Logger,
		opts:     opts,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go k.serve()
	return k, nil
}

// Info returns the connection descriptor with bound ports filled in.
func (k *Kernel) Info() transport.ConnectInfo {
	return k.listener.Info()
}

// Done is closed once the kernel has exited, whether by shutdown
// request or Close.
func (k *Kernel) Done() <-chan struct{} {
	return k.done
}

// ExecutionCount reports the kernel-side execution counter.
func (k *Kernel) ExecutionCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.count
}

// Close tears the kernel down without waiting for a shutdown request.
func (k *Kernel) Close() error {
	k.stopOnce.Do(func() { close(k.stop) })
	err := k.listener.Close()
	<-k.done
	return err
}

// serve accepts clients until a plain shutdown or Close.
func (k *Kernel) serve() {
	defer close(k.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-k.stop
		cancel()
	}()

	for {
		conn, err := k.listener.Accept(ctx)
		if err != nil {
			return
		}
		again := k.serveConn(ctx, conn)
		conn.Close()
		if !again {
			k.stopOnce.Do(func() { close(k.stop) })
			k.listener.Close()
			return
		}
	}
}

// serveConn handles one client. Control traffic is answered inline so
// an interrupt or shutdown is never stuck behind a running execution;
// shell requests run one at a time on a worker. Reports whether the
// kernel should accept another client.
func (k *Kernel) serveConn(ctx context.Context, conn *transport.Conn) bool {
	k.logger.Info("client connected")
	k.send(conn, transport.ChannelIOPub, wire.NewMessage(wire.Status{State: wire.StateStarting}))

	shellQ := make(chan wire.Message, 64)
	interrupt := make(chan struct{}, 1)
	inputs := make(chan wire.Message, 4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range shellQ {
			k.handleShell(conn, msg, interrupt, inputs)
		}
	}()

	again := true
	restart := false
loop:
	for {
		var d transport.Delivery
		var ok bool
		select {
		case d, ok = <-conn.Deliveries():
			if !ok {
				// Client vanished; wait for the next one.
				break loop
			}
		case <-ctx.Done():
			again = false
			break loop
		}

		switch content := d.Message.Content.(type) {
		case wire.InterruptRequest:
			select {
			case interrupt <- struct{}{}:
			default:
			}
			k.send(conn, transport.ChannelControl, wire.NewReply(d.Message, wire.InterruptReply{Status: wire.StatusOK}))
		case wire.ShutdownRequest:
			restart = content.Restart
			k.send(conn, transport.ChannelControl, wire.NewReply(d.Message, wire.ShutdownReply{
				Status:  wire.StatusOK,
				Restart: content.Restart,
			}))
			again = restart
			break loop
		case wire.InputReply:
			select {
			case inputs <- d.Message:
			default:
			}
		default:
			shellQ <- d.Message
		}
	}

	close(shellQ)
	wg.Wait()
	k.logger.Info("client gone", "restart", restart)
	return again
}

func (k *Kernel) send(conn *transport.Conn, channel transport.Channel, msg wire.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, channel, msg); err != nil {
		k.logger.Debug("send failed", "channel", channel, "type", msg.Type(), "error", err)
	}
}

// handleShell answers one shell-channel request, wrapped in the busy
// and idle statuses the client's completion tracking expects.
func (k *Kernel) handleShell(conn *transport.Conn, msg wire.Message, interrupt <-chan struct{}, inputs <-chan wire.Message) {
	switch content := msg.Content.(type) {
	case wire.KernelInfoRequest:
		k.busy(conn, msg)
		k.send(conn, transport.ChannelShell, wire.NewReply(msg, k.kernelInfo()))
		k.idle(conn, msg)
	case wire.ExecuteRequest:
		k.busy(conn, msg)
		reply := k.execute(conn, msg, content, interrupt, inputs)
		k.send(conn, transport.ChannelShell, wire.NewReply(msg, reply))
		k.idle(conn, msg)
	case wire.CompleteRequest:
		k.busy(conn, msg)
		k.send(conn, transport.ChannelShell, wire.NewReply(msg, completeScript(content)))
		k.idle(conn, msg)
	case wire.InspectRequest:
		k.busy(conn, msg)
		k.send(conn, transport.ChannelShell, wire.NewReply(msg, inspectScript(content)))
		k.idle(conn, msg)
	case wire.IsCompleteRequest:
		k.busy(conn, msg)
		k.send(conn, transport.ChannelShell, wire.NewReply(msg, isCompleteScript(content)))
		k.idle(conn, msg)
	case wire.HistoryRequest:
		k.busy(conn, msg)
		k.send(conn, transport.ChannelShell, wire.NewReply(msg, k.historyTail(content)))
		k.idle(conn, msg)
	case wire.CommOpen:
		k.handleCommOpen(conn, msg, content)
	case wire.CommMsg:
		// Echo semantics for every open comm.
		echo := wire.NewReply(msg, wire.CommMsg{CommID: content.CommID, Data: content.Data})
		echo.Buffers = msg.Buffers
		k.send(conn, transport.ChannelIOPub, echo)
	case wire.CommClose:
		// Nothing to tear down; comm state lives with the client.
	default:
		k.logger.Debug("unhandled shell message", "type", msg.Type())
	}
}

func (k *Kernel) busy(conn *transport.Conn, parent wire.Message) {
	k.send(conn, transport.ChannelIOPub, wire.NewReply(parent, wire.Status{State: wire.StateBusy}))
}

func (k *Kernel) idle(conn *transport.Conn, parent wire.Message) {
	k.send(conn, transport.ChannelIOPub, wire.NewReply(parent, wire.Status{State: wire.StateIdle}))
}

func (k *Kernel) kernelInfo() wire.KernelInfoReply {
	return wire.KernelInfoReply{
		Status:                wire.StatusOK,
		ProtocolVersion:       wire.ProtocolVersion,
		Implementation:        "thyone-mock",
		ImplementationVersion: version.Short(),
		Language: wire.LanguageInfo{
			Name:          k.opts.Language,
			Version:       "1.0",
			MIMEType:      "text/x-" + k.opts.Language,
			FileExtension: "." + k.opts.Language,
		},
		Banner: "Thyone mock kernel " + version.Short(),
	}
}

// handleCommOpen accepts "echo" comms with a greeting and refuses
// everything else.
func (k *Kernel) handleCommOpen(conn *transport.Conn, msg wire.Message, content wire.CommOpen) {
	if content.Target != "echo" {
		k.send(conn, transport.ChannelIOPub, wire.NewReply(msg, wire.CommClose{CommID: content.CommID}))
		return
	}
	greeting := wire.NewReply(msg, wire.CommMsg{CommID: content.CommID, Data: content.Data})
	k.send(conn, transport.ChannelIOPub, greeting)
}

func (k *Kernel) historyTail(req wire.HistoryRequest) wire.HistoryReply {
	k.mu.Lock()
	defer k.mu.Unlock()
	items := k.history
	if req.Tail > 0 && req.Tail < len(items) {
		items = items[len(items)-req.Tail:]
	}
	out := make([]wire.HistoryItem, len(items))
	copy(out, items)
	return wire.HistoryReply{Status: wire.StatusOK, Items: out}
}
