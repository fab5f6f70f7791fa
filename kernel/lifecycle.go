// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/thyone-project/thyone/lib/clock"
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

// startState tracks one Start or Restart in progress: launch attempts,
// the ready handshake, and the callers waiting on the outcome.
type startState struct {
	restart  bool
	attempt  int
	waiters  []chan error
	timer    *clock.Timer
	infoID   string
	infoSeen bool
	idleSeen bool
	// connected is set once a connection has been adopted and the
	// handshake is in flight.
	connected bool
	lastErr   error
}

// shutdownState tracks a Shutdown in progress.
type shutdownState struct {
	waiters []chan error
	ackID   string
	grace   *clock.Timer
	torn    bool
}

// Start launches or attaches the kernel and waits until it is ready:
// the kernel_info handshake has completed and the kernel has reported
// idle. On failure the session returns to unstarted and Start may be
// retried. The context bounds the caller's wait; startup itself is
// bounded by Config.StartupTimeout.
func (s *Session) Start(ctx context.Context) error {
	ready := make(chan error, 1)
	if err := s.call(ctx, func() error { return s.beginStart(ready) }); err != nil {
		return err
	}
	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart tears the kernel down and brings it back up. The in-flight
// request is aborted and open comms are force-closed; queued requests
// are kept and resume, in order, once the kernel is ready again. Valid
// from idle, busy, and dead.
func (s *Session) Restart(ctx context.Context) error {
	ready := make(chan error, 1)
	if err := s.call(ctx, func() error { return s.beginRestart(ready) }); err != nil {
		return err
	}
	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt delivers an out-of-band interrupt: a signal to an owned
// kernel process, or an interrupt_request on the control channel
// otherwise. The in-flight request, if any, is expected to end with
// an aborted or errored reply through the normal path; queued requests
// are unaffected.
func (s *Session) Interrupt(ctx context.Context) error {
	done := make(chan error, 1)
	if err := s.call(ctx, func() error { return s.beginInterrupt(done) }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown ends the session for good: the queue is flushed with
// AbortedErrors, comms are force-closed, the kernel is asked to exit
// and reclaimed after Config.ShutdownGrace, and the run loop stops.
// Shutdown of an already-finished session returns nil.
func (s *Session) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	if err := s.call(ctx, func() error { s.beginShutdown(done); return nil }); err != nil {
		if errors.Is(err, ErrKernelDead) {
			return nil
		}
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) beginStart(ready chan error) error {
	if s.shutdown != nil {
		return ErrKernelDead
	}
	if s.state != StateUnstarted {
		return ErrAlreadyStarted
	}
	st := &startState{attempt: 1, waiters: []chan error{ready}}
	s.starting = st
	s.setState(StateStarting)
	st.timer = s.clock.AfterFunc(s.cfg.StartupTimeout, func() {
		s.post(func() { s.startTimedOut(st) })
	})
	s.launchAttempt(st, false)
	return nil
}

func (s *Session) beginRestart(ready chan error) error {
	if s.shutdown != nil {
		return ErrKernelDead
	}
	switch s.state {
	case StateUnstarted:
		return ErrNotStarted
	case StateStarting, StateRestarting:
		// A start is already underway; share its outcome.
		s.starting.waiters = append(s.starting.waiters, ready)
		return nil
	}

	if req := s.inFlight; req != nil {
		s.stats.aborted.Add(1)
		s.resolveRequest(req, Result{Err: &AbortedError{Stage: AbortInFlight, Reason: "kernel restarted"}})
	}
	s.failControlWaiters(&AbortedError{Stage: AbortInFlight, Reason: "kernel restarted"})
	s.forceCloseComms(ErrSessionLost)
	s.stdin = nil
	if s.conn != nil {
		// Best effort; the kernel may already be gone.
		_ = s.sendRaw(transport.ChannelControl, wire.NewMessage(wire.ShutdownRequest{Restart: true}))
	}
	s.detachConn()
	s.exited = nil

	s.logger.Info("restarting kernel", "queued", s.queue.len())
	st := &startState{restart: true, attempt: 1, waiters: []chan error{ready}}
	s.starting = st
	s.setState(StateRestarting)
	st.timer = s.clock.AfterFunc(s.cfg.StartupTimeout, func() {
		s.post(func() { s.startTimedOut(st) })
	})
	s.launchAttempt(st, true)
	return nil
}

func (s *Session) beginInterrupt(done chan error) error {
	switch {
	case s.state == StateUnstarted:
		return ErrNotStarted
	case s.state == StateDead || s.shutdown != nil:
		return ErrKernelDead
	case !s.state.Alive():
		return fmt.Errorf("kernel: cannot interrupt while %s", s.state)
	}
	if s.launcher.Interrupt() {
		s.logger.Debug("kernel interrupted by signal")
		done <- nil
		return nil
	}
	msg := wire.NewMessage(wire.InterruptRequest{})
	if err := s.sendNow(transport.ChannelControl, msg); err != nil {
		return err
	}
	s.routes[msg.ID] = &route{control: done}
	s.logger.Debug("interrupt requested", "id", msg.ID)
	return nil
}

func (s *Session) beginShutdown(done chan error) {
	if s.shutdown != nil {
		s.shutdown.waiters = append(s.shutdown.waiters, done)
		return
	}
	sd := &shutdownState{waiters: []chan error{done}}
	s.shutdown = sd
	s.logger.Info("shutting down session", "queued", s.queue.len())

	if st := s.starting; st != nil {
		st.timer.Stop()
		s.starting = nil
		resolveWaiters(st.waiters, ErrKernelDead)
	}
	if req := s.inFlight; req != nil {
		s.stats.aborted.Add(1)
		s.resolveRequest(req, Result{Err: &AbortedError{Stage: AbortInFlight, Reason: "session closed"}})
	}
	for _, req := range s.queue.drain() {
		s.stats.aborted.Add(1)
		s.resolveRequest(req, Result{Err: &AbortedError{Stage: AbortQueued, Reason: "session closed"}})
	}
	s.failControlWaiters(ErrKernelDead)
	s.forceCloseComms(ErrSessionLost)
	s.stdin = nil
	s.setState(StateDead)

	if s.conn == nil {
		s.finishShutdownTeardown()
		return
	}
	msg := wire.NewMessage(wire.ShutdownRequest{})
	if err := s.sendRaw(transport.ChannelControl, msg); err != nil {
		s.finishShutdownTeardown()
		return
	}
	sd.ackID = msg.ID
	sd.grace = s.clock.AfterFunc(s.cfg.ShutdownGrace, func() {
		s.post(s.finishShutdownTeardown)
	})
}

// finishShutdownTeardown reclaims the connection and the kernel
// process once the kernel acknowledged the shutdown, the grace period
// expired, or the connection dropped. Idempotent; loop-owned.
func (s *Session) finishShutdownTeardown() {
	sd := s.shutdown
	if sd == nil || sd.torn {
		return
	}
	sd.torn = true
	if sd.grace != nil {
		sd.grace.Stop()
	}
	conn := s.conn
	s.conn = nil
	s.recv = nil
	s.exited = nil

	go func() {
		if conn != nil {
			conn.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.ShutdownGrace)
		if err := s.launcher.Shutdown(ctx); err != nil {
			s.logger.Warn("kernel process reclaim", "error", err)
		}
		cancel()
		s.post(s.completeShutdown)
	}()
}

func (s *Session) completeShutdown() {
	sd := s.shutdown
	if sd == nil || s.finished {
		return
	}
	resolveWaiters(sd.waiters, nil)
	sd.waiters = nil
	s.finished = true
	s.logger.Info("session closed")
}

// launchAttempt provisions and dials the kernel off the loop, posting
// the outcome back. reclaim shuts the previous kernel process down
// first.
func (s *Session) launchAttempt(st *startState, reclaim bool) {
	go func() {
		if reclaim {
			ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.ShutdownGrace)
			if err := s.launcher.Shutdown(ctx); err != nil {
				s.logger.Debug("reclaiming previous kernel", "error", err)
			}
			cancel()
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StartupTimeout)
		defer cancel()
		info, err := s.launcher.Launch(ctx)
		if err != nil {
			s.post(func() { s.startAttemptFailed(st, fmt.Errorf("launch kernel: %w", err)) })
			return
		}
		conn, err := s.dialFn(ctx, info)
		if err != nil {
			s.post(func() { s.startAttemptFailed(st, fmt.Errorf("dial kernel: %w", err)) })
			return
		}
		s.post(func() { s.adoptConn(st, conn) })
	}()
}

// adoptConn takes ownership of a freshly dialed connection and begins
// the ready handshake. Loop-owned.
func (s *Session) adoptConn(st *startState, conn Conn) {
	if s.starting != st {
		conn.Close()
		return
	}
	s.conn = conn
	s.recv = conn.Deliveries()
	s.exited = s.launcher.Exited()
	st.connected = true

	infoMsg := wire.NewMessage(wire.KernelInfoRequest{})
	st.infoID = infoMsg.ID
	if err := s.sendRaw(transport.ChannelShell, infoMsg); err != nil {
		s.startAttemptFailed(st, fmt.Errorf("kernel_info handshake: %w", err))
		return
	}
	s.logger.Debug("kernel connected, awaiting ready", "attempt", st.attempt)
}

// startAttemptFailed records a failed launch, dial, or handshake and
// either retries or gives up. Loop-owned.
func (s *Session) startAttemptFailed(st *startState, cause error) {
	if s.starting != st {
		return
	}
	st.lastErr = cause
	if st.connected {
		s.detachConn()
		s.exited = nil
		st.connected = false
		st.infoSeen = false
		st.idleSeen = false
	}
	s.logger.Debug("kernel start attempt failed", "attempt", st.attempt, "error", cause)
	if st.attempt >= s.cfg.LaunchAttempts {
		s.startFailed(st, &StartupError{Attempts: st.attempt, Err: cause})
		return
	}
	st.attempt++
	s.launchAttempt(st, true)
}

// startTimedOut gives up on a start that did not become ready within
// the startup timeout. Loop-owned.
func (s *Session) startTimedOut(st *startState) {
	if s.starting != st {
		return
	}
	cause := st.lastErr
	switch {
	case st.connected:
		cause = fmt.Errorf("kernel not ready within %v", s.cfg.StartupTimeout)
	case cause == nil:
		cause = fmt.Errorf("kernel not reachable within %v", s.cfg.StartupTimeout)
	}
	s.startFailed(st, &StartupError{Attempts: st.attempt, Err: cause})
}

// startFailed concludes a failed Start or Restart. A failed Start
// returns the session to unstarted so it may be retried; a failed
// Restart leaves it dead. Loop-owned.
func (s *Session) startFailed(st *startState, serr *StartupError) {
	st.timer.Stop()
	s.starting = nil
	if st.connected {
		s.detachConn()
	}
	s.exited = nil

	// Reap whatever half-started process may be left behind.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.ShutdownGrace)
		defer cancel()
		if err := s.launcher.Shutdown(ctx); err != nil {
			s.logger.Debug("reclaiming failed kernel", "error", err)
		}
	}()

	s.logger.Warn("kernel start failed", "attempts", serr.Attempts, "error", serr.Err)
	if st.restart {
		s.setState(StateDead)
		s.monitor.dead(serr)
	} else {
		s.setState(StateUnstarted)
	}
	resolveWaiters(st.waiters, serr)
}

// tryFinishStart declares the session ready once both halves of the
// handshake have been observed. Loop-owned.
func (s *Session) tryFinishStart(st *startState) {
	if !st.infoSeen || !st.idleSeen {
		return
	}
	st.timer.Stop()
	s.starting = nil
	if st.restart {
		s.countView.Store(0)
	}
	s.setState(StateIdle)

	language := ""
	if info := s.infoView.Load(); info != nil {
		language = info.Language.Name
	}
	s.logger.Info("kernel ready", "language", language, "attempt", st.attempt, "queued", s.queue.len())
	resolveWaiters(st.waiters, nil)

	go s.heartbeatLoop(s.conn)
	s.flushComms()
	s.pump()
}

func resolveWaiters(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
	}
}
