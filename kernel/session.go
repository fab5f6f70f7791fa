// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/thyone-project/thyone/lib/clock"
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

// Session is the client-side handle to one kernel. See the package
// documentation for the lifecycle and queueing model.
//
// All methods are safe for concurrent use. Methods taking a context
// use it to bound their own wait; a posted operation takes effect even
// if the caller stops waiting.
type Session struct {
	id       string
	cfg      Config
	logger   *slog.Logger
	clock    clock.Clock
	launcher Launcher
	dialFn   DialFunc
	monitor  Monitor

	commands chan func()
	closed   chan struct{}

	// Cross-thread snapshots, written only by the run loop.
	stateView atomic.Int32
	countView atomic.Int64
	infoView  atomic.Pointer[wire.KernelInfoReply]
	stats     sessionStats

	// Everything below is owned by the run loop.
	state    State
	conn     Conn
	recv     <-chan transport.Delivery
	exited   <-chan error
	queue    *queue
	inFlight *request
	routes   map[string]*route
	comms    map[string]*Comm
	targets  map[string]CommTargetFunc
	starting *startState
	shutdown *shutdownState
	stdin    *wire.Message
	finished bool
}

// request is one queued or in-flight submission.
type request struct {
	msg      wire.Message
	code     string
	sink     Callbacks
	exec     *Execution
	sent     bool
	reply    *wire.Message
	idleSeen bool
	resolved bool
}

// route is the correlator entry for one outstanding message ID: either
// a queue request with its callback sink, or a control-channel waiter.
type route struct {
	req     *request
	control chan error
}

type sessionStats struct {
	completed      atomic.Uint64
	aborted        atomic.Uint64
	failed         atomic.Uint64
	unknownDropped atomic.Uint64
	commErrors     atomic.Uint64
}

// Stats is a snapshot of session counters.
type Stats struct {
	// Completed counts requests that received their terminal reply.
	Completed uint64
	// Aborted counts requests cancelled, interrupted, or flushed.
	Aborted uint64
	// Failed counts requests lost to transport failure.
	Failed uint64
	// UnknownDropped counts inbound messages dropped for having no
	// live route.
	UnknownDropped uint64
	// CommErrors counts comm protocol violations.
	CommErrors uint64
}

// New assembles a session around cfg.Launcher and starts its run loop.
// The session begins unstarted; call Start to bring the kernel up.
func New(cfg Config) (*Session, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:       wire.NewID(),
		cfg:      cfg,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		launcher: cfg.Launcher,
		dialFn:   cfg.Dial,
		monitor:  cfg.Monitor,
		commands: make(chan func()),
		closed:   make(chan struct{}),
		queue:    newQueue(cfg.QueueLimit),
		routes:   make(map[string]*route),
		comms:    make(map[string]*Comm),
		targets:  make(map[string]CommTargetFunc),
	}
	go s.run()
	return s, nil
}

// ID returns the session's unique identifier. It labels history
// entries and connection files, not wire messages.
func (s *Session) ID() string { return s.id }

// State returns a snapshot of the lifecycle state.
func (s *Session) State() State {
	return State(s.stateView.Load())
}

// ExecutionCount returns the highest execution counter the kernel has
// reported this session.
func (s *Session) ExecutionCount() int {
	return int(s.countView.Load())
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Completed:      s.stats.completed.Load(),
		Aborted:        s.stats.aborted.Load(),
		Failed:         s.stats.failed.Load(),
		UnknownDropped: s.stats.unknownDropped.Load(),
		CommErrors:     s.stats.commErrors.Load(),
	}
}

// Done returns a channel closed when the session has shut down and its
// run loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Execute submits code for execution with history recording, stdin,
// and stop-on-error enabled. The returned handle resolves when the
// request reaches a terminal state; sink receives its streaming events
// along the way.
func (s *Session) Execute(ctx context.Context, code string, sink Callbacks) (*Execution, error) {
	req := wire.ExecuteRequest{
		Code:         code,
		StoreHistory: true,
		AllowStdin:   true,
		StopOnError:  true,
	}
	return s.ExecuteRequest(ctx, req, sink)
}

// ExecuteRequest submits a fully specified execute request. Requests
// are accepted in any state except during shutdown: submissions before
// the kernel is ready, while it is busy, and after it has died are
// queued and transmitted in order once the session is idle.
func (s *Session) ExecuteRequest(ctx context.Context, req wire.ExecuteRequest, sink Callbacks) (*Execution, error) {
	var exec *Execution
	err := s.call(ctx, func() error {
		e, err := s.enqueue(req, req.Code, sink)
		if err != nil {
			return err
		}
		exec = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// Cancel removes a queued request, resolving its handle with an
// AbortedError. Cancelling a request that already resolved is a no-op;
// cancelling the in-flight request is refused, that is Interrupt's
// job.
func (s *Session) Cancel(ctx context.Context, exec *Execution) error {
	if exec == nil {
		return nil
	}
	return s.call(ctx, func() error {
		req := s.queue.remove(exec.ID())
		if req == nil {
			if s.inFlight != nil && s.inFlight.exec == exec {
				return fmt.Errorf("kernel: request is in flight, use Interrupt")
			}
			return nil
		}
		s.stats.aborted.Add(1)
		s.resolveRequest(req, Result{Err: &AbortedError{Stage: AbortQueued, Reason: "cancelled"}})
		return nil
	})
}

// KernelInfo returns the kernel's self-description. The reply from the
// startup handshake is cached; later calls return it without a round
// trip.
func (s *Session) KernelInfo(ctx context.Context) (wire.KernelInfoReply, error) {
	if info := s.infoView.Load(); info != nil {
		return *info, nil
	}
	reply, err := s.roundTrip(ctx, wire.KernelInfoRequest{})
	if err != nil {
		return wire.KernelInfoReply{}, err
	}
	info, ok := reply.(wire.KernelInfoReply)
	if !ok {
		return wire.KernelInfoReply{}, fmt.Errorf("kernel: unexpected %s reply to kernel_info_request", replyType(reply))
	}
	return info, nil
}

// Complete asks the kernel for completion candidates at a cursor
// position.
func (s *Session) Complete(ctx context.Context, code string, cursorPos int) (wire.CompleteReply, error) {
	reply, err := s.roundTrip(ctx, wire.CompleteRequest{Code: code, CursorPos: cursorPos})
	if err != nil {
		return wire.CompleteReply{}, err
	}
	r, ok := reply.(wire.CompleteReply)
	if !ok {
		return wire.CompleteReply{}, fmt.Errorf("kernel: unexpected %s reply to complete_request", replyType(reply))
	}
	return r, nil
}

// Inspect asks the kernel for documentation about the object at a
// cursor position.
func (s *Session) Inspect(ctx context.Context, code string, cursorPos, detailLevel int) (wire.InspectReply, error) {
	reply, err := s.roundTrip(ctx, wire.InspectRequest{Code: code, CursorPos: cursorPos, DetailLevel: detailLevel})
	if err != nil {
		return wire.InspectReply{}, err
	}
	r, ok := reply.(wire.InspectReply)
	if !ok {
		return wire.InspectReply{}, fmt.Errorf("kernel: unexpected %s reply to inspect_request", replyType(reply))
	}
	return r, nil
}

// HistoryTail asks the kernel for its most recent n input lines.
func (s *Session) HistoryTail(ctx context.Context, n int) (wire.HistoryReply, error) {
	reply, err := s.roundTrip(ctx, wire.HistoryRequest{Tail: n})
	if err != nil {
		return wire.HistoryReply{}, err
	}
	r, ok := reply.(wire.HistoryReply)
	if !ok {
		return wire.HistoryReply{}, fmt.Errorf("kernel: unexpected %s reply to history_request", replyType(reply))
	}
	return r, nil
}

// IsComplete asks the kernel whether code forms a complete unit of
// execution.
func (s *Session) IsComplete(ctx context.Context, code string) (wire.IsCompleteReply, error) {
	reply, err := s.roundTrip(ctx, wire.IsCompleteRequest{Code: code})
	if err != nil {
		return wire.IsCompleteReply{}, err
	}
	r, ok := reply.(wire.IsCompleteReply)
	if !ok {
		return wire.IsCompleteReply{}, fmt.Errorf("kernel: unexpected %s reply to is_complete_request", replyType(reply))
	}
	return r, nil
}

// RespondStdin answers the kernel's pending input prompt. It fails if
// no input request is outstanding.
func (s *Session) RespondStdin(ctx context.Context, value string) error {
	return s.call(ctx, func() error {
		if s.stdin == nil {
			return fmt.Errorf("kernel: no pending input request")
		}
		reply := wire.NewReply(*s.stdin, wire.InputReply{Value: value})
		s.stdin = nil
		return s.sendNow(transport.ChannelStdin, reply)
	})
}

// call runs fn on the run loop and waits for its result. The context
// bounds the wait only; once posted, fn runs regardless.
func (s *Session) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.commands <- func() { done <- fn() }:
	case <-s.closed:
		return ErrKernelDead
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn for the run loop without waiting. Used by the
// session's own helper goroutines.
func (s *Session) post(fn func()) {
	select {
	case s.commands <- fn:
	case <-s.closed:
	}
}

// roundTrip enqueues an auxiliary request and waits for its terminal
// reply.
func (s *Session) roundTrip(ctx context.Context, content wire.Content) (wire.Content, error) {
	var exec *Execution
	err := s.call(ctx, func() error {
		e, err := s.enqueue(content, "", Callbacks{})
		if err != nil {
			return err
		}
		exec = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	result, err := exec.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Reply, nil
}

func replyType(content wire.Content) wire.MessageType {
	return wire.Message{Content: content}.Type()
}

// run is the session's event loop. It owns every loop field; commands,
// deliveries, and process-exit events are its only inputs.
func (s *Session) run() {
	for !s.finished {
		select {
		case fn := <-s.commands:
			fn()
		case d, ok := <-s.recv:
			if !ok {
				s.recv = nil
				cause := errors.New("connection closed")
				if s.conn != nil {
					if err := s.conn.Err(); err != nil {
						cause = err
					}
				}
				s.kernelLost(cause)
				continue
			}
			s.handleDelivery(d)
		case err := <-s.exited:
			s.exited = nil
			if err == nil {
				err = errors.New("kernel process exited")
			} else {
				err = fmt.Errorf("kernel process exited: %w", err)
			}
			s.kernelLost(err)
		}
	}
	close(s.closed)
}

// enqueue creates a request, registers its correlator route, and
// pumps the queue. Loop-owned.
func (s *Session) enqueue(content wire.Content, code string, sink Callbacks) (*Execution, error) {
	if s.shutdown != nil {
		return nil, ErrKernelDead
	}
	msg := wire.NewMessage(content)
	req := &request{
		msg:  msg,
		code: code,
		sink: sink,
		exec: newExecution(msg.ID, code),
	}
	if err := s.queue.push(req); err != nil {
		return nil, err
	}
	s.routes[msg.ID] = &route{req: req}
	s.pump()
	return req.exec, nil
}

// pump transmits the queue head when the session is idle with nothing
// in flight. Loop-owned.
func (s *Session) pump() {
	if s.state != StateIdle || s.inFlight != nil {
		return
	}
	head := s.queue.pop()
	if head == nil {
		return
	}
	head.sent = true
	s.inFlight = head
	s.setState(StateBusy)
	if err := s.sendRaw(transport.ChannelShell, head.msg); err != nil {
		s.kernelLost(err)
		return
	}
	s.logger.Debug("request sent", "type", head.msg.Type(), "id", head.msg.ID)
}

// resolveRequest finishes a request exactly once and removes its
// correlator route. Loop-owned.
func (s *Session) resolveRequest(req *request, result Result) {
	if req.resolved {
		return
	}
	req.resolved = true
	delete(s.routes, req.msg.ID)
	if s.inFlight == req {
		s.inFlight = nil
	}
	req.exec.finish(result)
}

// sendRaw transmits on the live connection with the write bound.
// Loop-owned.
func (s *Session) sendRaw(channel transport.Channel, msg wire.Message) error {
	if s.conn == nil {
		return ErrKernelDead
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return s.conn.Send(ctx, channel, msg)
}

// sendNow transmits and treats failure as loss of the kernel.
// Loop-owned.
func (s *Session) sendNow(channel transport.Channel, msg wire.Message) error {
	if s.conn == nil {
		return ErrKernelDead
	}
	if err := s.sendRaw(channel, msg); err != nil {
		s.kernelLost(err)
		return &TransportError{Err: err}
	}
	return nil
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.stateView.Store(int32(state))
	s.monitor.state(state)
}

// detachConn closes and forgets the connection without touching the
// rest of the session. Loop-owned.
func (s *Session) detachConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.recv = nil
}

// kernelLost is the shared death path for transport failures,
// heartbeat loss, and process exit. The in-flight request fails,
// queued requests are held for a restart, and open comms are
// force-closed. Loop-owned.
func (s *Session) kernelLost(cause error) {
	if s.finished || s.state == StateDead {
		return
	}
	if s.shutdown != nil {
		// The kernel going away during shutdown is the expected
		// outcome; move straight to teardown.
		s.finishShutdownTeardown()
		return
	}
	if s.starting != nil {
		s.startAttemptFailed(s.starting, cause)
		return
	}

	failure := &TransportError{Err: cause}
	s.logger.Warn("kernel lost", "error", cause, "queued", s.queue.len())

	s.detachConn()
	s.exited = nil
	s.stdin = nil

	if req := s.inFlight; req != nil {
		if req.reply != nil {
			// The terminal reply already arrived; only the trailing
			// idle status is missing. Count the request as completed.
			s.stats.completed.Add(1)
			s.resolveRequest(req, Result{Reply: req.reply.Content})
		} else {
			s.stats.failed.Add(1)
			s.resolveRequest(req, Result{Err: failure})
		}
	}
	s.failControlWaiters(failure)
	s.forceCloseComms(ErrSessionLost)

	s.setState(StateDead)
	s.monitor.dead(failure)
}

// failControlWaiters resolves outstanding control-channel waits with
// err and removes their routes. Loop-owned.
func (s *Session) failControlWaiters(err error) {
	for id, rt := range s.routes {
		if rt.control == nil {
			continue
		}
		rt.control <- err
		delete(s.routes, id)
	}
}

// heartbeatLoop pings the kernel at the configured cadence and
// declares it lost after enough consecutive misses. One runs per
// connection; it exits when the connection ends.
func (s *Session) heartbeatLoop(conn Conn) {
	ticker := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-conn.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HeartbeatInterval)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				misses = 0
				continue
			}
			misses++
			s.logger.Debug("heartbeat miss", "misses", misses, "error", err)
			if misses < s.cfg.HeartbeatMisses {
				continue
			}
			cause := fmt.Errorf("heartbeat timeout after %d misses: %w", misses, err)
			s.post(func() {
				if s.conn == conn {
					s.kernelLost(cause)
				}
			})
			return
		}
	}
}
