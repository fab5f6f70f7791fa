// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"

	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

// CommHandler receives traffic for one comm channel. Callbacks run on
// the session loop and must not block. A nil field ignores that event.
type CommHandler struct {
	// OnMessage receives a comm_msg addressed to this channel, along
	// with any binary buffers that rode the envelope.
	OnMessage func(msg wire.CommMsg, buffers [][]byte)

	// OnClose fires exactly once when the channel closes, whether the
	// kernel closed it, the client closed it, or the session died. The
	// error is nil for an orderly close and ErrSessionLost when the
	// session went away underneath the channel.
	OnClose func(err error)
}

func (h CommHandler) message(content wire.CommMsg, buffers [][]byte) {
	if h.OnMessage != nil {
		h.OnMessage(content, buffers)
	}
}

func (h CommHandler) closed(err error) {
	if h.OnClose != nil {
		h.OnClose(err)
	}
}

// CommTargetFunc builds the handler for a kernel-opened comm channel.
// It runs on the session loop when a comm_open names its target.
type CommTargetFunc func(comm *Comm, open wire.CommOpen) CommHandler

// Comm is one side channel multiplexed over the session, identified
// by a shared id and detached from the execute queue. Traffic on it
// never waits behind queued execute requests.
type Comm struct {
	session *Session
	id      string
	target  string

	// Loop-owned.
	open    bool
	handler CommHandler
	outbox  []wire.Message
}

// ID returns the channel id shared with the kernel.
func (c *Comm) ID() string { return c.id }

// Target returns the comm target name the channel was opened against.
func (c *Comm) Target() string { return c.target }

// OpenComm opens a client-side comm channel against a kernel target.
// If the kernel is still starting, the comm_open is held and sent as
// soon as the kernel is ready; the returned Comm is usable either way.
func (s *Session) OpenComm(ctx context.Context, target string, data map[string]any, handler CommHandler) (*Comm, error) {
	var comm *Comm
	err := s.call(ctx, func() error {
		if s.shutdown != nil || s.finished {
			return ErrKernelDead
		}
		switch s.state {
		case StateUnstarted:
			return ErrNotStarted
		case StateDead:
			return ErrKernelDead
		}
		c := &Comm{session: s, id: wire.NewID(), target: target, open: true, handler: handler}
		msg := wire.NewMessage(wire.CommOpen{CommID: c.id, Target: target, Data: data})
		if s.state.Alive() {
			if err := s.sendNow(transport.ChannelShell, msg); err != nil {
				return err
			}
		} else {
			c.outbox = append(c.outbox, msg)
		}
		s.comms[c.id] = c
		comm = c
		return nil
	})
	return comm, err
}

// RegisterCommTarget installs a factory for kernel-opened channels
// naming target. A nil factory removes the registration. Channels the
// kernel opens against an unregistered target are refused with a
// comm_close.
func (s *Session) RegisterCommTarget(ctx context.Context, target string, factory CommTargetFunc) error {
	return s.call(ctx, func() error {
		if factory == nil {
			delete(s.targets, target)
			return nil
		}
		s.targets[target] = factory
		return nil
	})
}

// Send publishes data on the channel. While the kernel is starting or
// restarting the message is held and flushed once the kernel is
// ready; on a closed channel it fails with ErrCommClosed.
func (c *Comm) Send(ctx context.Context, data map[string]any, buffers ...[]byte) error {
	s := c.session
	return s.call(ctx, func() error {
		if !c.open {
			return ErrCommClosed
		}
		msg := wire.NewMessage(wire.CommMsg{CommID: c.id, Data: data})
		msg.Buffers = buffers
		if s.state.Alive() {
			return s.sendNow(transport.ChannelShell, msg)
		}
		c.outbox = append(c.outbox, msg)
		return nil
	})
}

// Close closes the channel from this side, notifying the kernel when
// one is connected. Closing an already closed channel is a no-op.
func (c *Comm) Close(ctx context.Context) error {
	s := c.session
	return s.call(ctx, func() error {
		if !c.open {
			return nil
		}
		c.open = false
		c.outbox = nil
		delete(s.comms, c.id)
		if s.state.Alive() {
			_ = s.sendNow(transport.ChannelShell, wire.NewMessage(wire.CommClose{CommID: c.id}))
		}
		c.handler.closed(nil)
		return nil
	})
}

// handleCommOpen admits a kernel-opened channel, or refuses it with a
// comm_close when no target factory is registered.
func (s *Session) handleCommOpen(content wire.CommOpen) {
	if _, exists := s.comms[content.CommID]; exists {
		s.stats.commErrors.Add(1)
		cerr := &CommProtocolError{CommID: content.CommID, Target: content.Target, Reason: "duplicate comm id"}
		s.logger.Warn("ignoring comm open", "error", cerr)
		return
	}
	factory, ok := s.targets[content.Target]
	if !ok {
		s.stats.commErrors.Add(1)
		cerr := &CommProtocolError{CommID: content.CommID, Target: content.Target, Reason: "no handler registered for target"}
		s.logger.Warn("refusing comm open", "error", cerr)
		_ = s.sendNow(transport.ChannelShell, wire.NewMessage(wire.CommClose{CommID: content.CommID}))
		return
	}
	c := &Comm{session: s, id: content.CommID, target: content.Target, open: true}
	c.handler = factory(c, content)
	s.comms[c.id] = c
	s.monitor.commOpen(c)
}

func (s *Session) handleCommMsg(msg wire.Message, content wire.CommMsg) {
	c, ok := s.comms[content.CommID]
	if !ok {
		s.stats.commErrors.Add(1)
		s.logger.Debug("comm message for unknown channel", "comm_id", content.CommID)
		return
	}
	c.handler.message(content, msg.Buffers)
}

func (s *Session) handleCommClose(content wire.CommClose) {
	c, ok := s.comms[content.CommID]
	if !ok {
		s.stats.commErrors.Add(1)
		s.logger.Debug("comm close for unknown channel", "comm_id", content.CommID)
		return
	}
	c.open = false
	c.outbox = nil
	delete(s.comms, content.CommID)
	c.handler.closed(nil)
}

// forceCloseComms tears down every open channel without wire traffic.
// Used when the session dies or restarts underneath the channels.
func (s *Session) forceCloseComms(reason error) {
	if len(s.comms) == 0 {
		return
	}
	closing := make([]*Comm, 0, len(s.comms))
	for _, c := range s.comms {
		closing = append(closing, c)
	}
	s.comms = make(map[string]*Comm)
	for _, c := range closing {
		c.open = false
		c.outbox = nil
		c.handler.closed(reason)
	}
	s.logger.Debug("force closed comm channels", "count", len(closing), "reason", reason)
}

// flushComms sends traffic held while the kernel was starting.
func (s *Session) flushComms() {
	for _, c := range s.comms {
		if !c.open {
			continue
		}
		pending := c.outbox
		c.outbox = nil
		for _, msg := range pending {
			if err := s.sendNow(transport.ChannelShell, msg); err != nil {
				return
			}
		}
	}
}
