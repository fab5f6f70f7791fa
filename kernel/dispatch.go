// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

// handleDelivery routes one inbound message. Runs on the loop; the
// type switch is exhaustive over the inbound half of the wire types,
// and everything unroutable is counted and dropped rather than
// treated as fatal.
func (s *Session) handleDelivery(d transport.Delivery) {
	msg := d.Message

	// During the ready handshake, status and kernel_info traffic is
	// what we are waiting for, whoever it is parented to.
	if st := s.starting; st != nil && st.connected {
		switch content := msg.Content.(type) {
		case wire.Status:
			s.monitor.kernelStatus(content.State)
			if content.State == wire.StateIdle {
				st.idleSeen = true
				s.tryFinishStart(st)
			}
			return
		case wire.KernelInfoReply:
			info := content
			s.infoView.Store(&info)
			if msg.ParentID == st.infoID {
				st.infoSeen = true
				s.tryFinishStart(st)
			}
			return
		}
	}

	switch content := msg.Content.(type) {
	case wire.Status:
		s.handleStatus(msg, content)
	case wire.ExecuteReply:
		s.noteExecutionCount(content.ExecutionCount)
		s.handleReply(msg)
	case wire.KernelInfoReply:
		info := content
		s.infoView.Store(&info)
		s.handleReply(msg)
	case wire.CompleteReply, wire.InspectReply, wire.HistoryReply, wire.IsCompleteReply:
		s.handleReply(msg)
	case wire.InterruptReply:
		s.handleControlReply(msg)
	case wire.ShutdownReply:
		s.handleShutdownReply(msg)
	case wire.Stream:
		s.routeBroadcast(msg, func(sink Callbacks) { sink.stream(content) })
	case wire.DisplayData:
		s.routeBroadcast(msg, func(sink Callbacks) { sink.display(content) })
	case wire.UpdateDisplayData:
		s.routeBroadcast(msg, func(sink Callbacks) { sink.updateDisplay(content) })
	case wire.ExecuteResult:
		s.noteExecutionCount(content.ExecutionCount)
		s.routeBroadcast(msg, func(sink Callbacks) { sink.result(content) })
	case wire.RuntimeError:
		s.routeBroadcast(msg, func(sink Callbacks) { sink.runtimeError(content) })
	case wire.ClearOutput:
		s.routeBroadcast(msg, func(sink Callbacks) { sink.clear(content) })
	case wire.ExecuteInput:
		s.noteExecutionCount(content.ExecutionCount)
		s.routeBroadcast(msg, func(sink Callbacks) { sink.executeInput(content) })
	case wire.InputRequest:
		s.handleInputRequest(msg, content)
	case wire.CommOpen:
		s.handleCommOpen(content)
	case wire.CommMsg:
		s.handleCommMsg(msg, content)
	case wire.CommClose:
		s.handleCommClose(content)
	default:
		s.dropUnroutable(msg)
	}
}

// handleStatus forwards kernel busy/idle announcements. Parentless
// announcements are session-wide: the monitor and every live request
// sink see them. Parented ones go to their request, and a parented
// idle is half of the request's completion condition.
func (s *Session) handleStatus(msg wire.Message, content wire.Status) {
	s.monitor.kernelStatus(content.State)
	if msg.ParentID == "" {
		for _, rt := range s.routes {
			if rt.req != nil {
				rt.req.sink.status(content.State)
			}
		}
		return
	}
	rt, ok := s.routes[msg.ParentID]
	if !ok {
		s.dropUnroutable(msg)
		return
	}
	if rt.req == nil {
		// Parented to a control round-trip; the monitor forward above
		// is all it gets.
		return
	}
	rt.req.sink.status(content.State)
	if content.State == wire.StateIdle && rt.req.sent {
		rt.req.idleSeen = true
		s.maybeComplete(rt.req)
	}
}

// handleReply records the terminal reply for an in-flight request.
func (s *Session) handleReply(msg wire.Message) {
	rt, ok := s.routes[msg.ParentID]
	if !ok || rt.req == nil || !rt.req.sent {
		s.dropUnroutable(msg)
		return
	}
	reply := msg
	rt.req.reply = &reply
	s.maybeComplete(rt.req)
}

// maybeComplete resolves a request once both its terminal reply and
// its trailing idle status have arrived, then advances the queue.
// Loop-owned.
func (s *Session) maybeComplete(req *request) {
	if req.resolved || req.reply == nil || !req.idleSeen {
		return
	}
	result := Result{Reply: req.reply.Content}
	if reply, ok := req.reply.Content.(wire.ExecuteReply); ok && reply.Status == wire.StatusAborted {
		result.Err = &AbortedError{Stage: AbortInFlight, Reason: "aborted by kernel"}
		s.stats.aborted.Add(1)
	} else {
		s.stats.completed.Add(1)
	}
	s.resolveRequest(req, result)
	s.logger.Debug("request finished", "type", req.msg.Type(), "id", req.msg.ID)
	if s.state == StateBusy {
		s.setState(StateIdle)
	}
	s.pump()
}

func (s *Session) handleControlReply(msg wire.Message) {
	rt, ok := s.routes[msg.ParentID]
	if !ok || rt.control == nil {
		s.dropUnroutable(msg)
		return
	}
	delete(s.routes, msg.ParentID)
	rt.control <- nil
	s.logger.Debug("control reply", "type", msg.Type(), "parent_id", msg.ParentID)
}

func (s *Session) handleShutdownReply(msg wire.Message) {
	if sd := s.shutdown; sd != nil && msg.ParentID == sd.ackID {
		s.logger.Debug("kernel acknowledged shutdown")
		s.finishShutdownTeardown()
		return
	}
	s.dropUnroutable(msg)
}

// routeBroadcast delivers a parented broadcast to its request's sink.
func (s *Session) routeBroadcast(msg wire.Message, deliver func(Callbacks)) {
	rt, ok := s.routes[msg.ParentID]
	if !ok || rt.req == nil {
		s.dropUnroutable(msg)
		return
	}
	deliver(rt.req.sink)
}

// handleInputRequest forwards a kernel input prompt to the owning
// request, or answers it with an empty value when nothing can take
// it; the kernel blocks until some reply arrives.
func (s *Session) handleInputRequest(msg wire.Message, content wire.InputRequest) {
	rt, ok := s.routes[msg.ParentID]
	if ok && rt.req != nil && rt.req.sink.OnInput != nil {
		pending := msg
		s.stdin = &pending
		rt.req.sink.OnInput(content)
		return
	}
	s.logger.Warn("unanswerable input request, replying empty", "parent_id", msg.ParentID)
	_ = s.sendNow(transport.ChannelStdin, wire.NewReply(msg, wire.InputReply{}))
}

func (s *Session) dropUnroutable(msg wire.Message) {
	s.stats.unknownDropped.Add(1)
	err := &UnknownMessageError{MessageType: msg.Type(), ParentID: msg.ParentID}
	s.logger.Debug("dropping message", "error", err)
}

func (s *Session) noteExecutionCount(count int) {
	if int64(count) > s.countView.Load() {
		s.countView.Store(int64(count))
	}
}
