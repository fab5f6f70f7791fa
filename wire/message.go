// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the wire protocol revision kernels report in
// their kernel_info reply.
const ProtocolVersion = "5.3"

// MessageType identifies the content type of a message. The set of
// types is closed: every value a conforming peer may send is declared
// below, and anything else decodes to [UnknownContent].
type MessageType string

// Request types (client to kernel).
const (
	TypeExecuteRequest    MessageType = "execute_request"
	TypeKernelInfoRequest MessageType = "kernel_info_request"
	TypeCompleteRequest   MessageType = "complete_request"
	TypeInspectRequest    MessageType = "inspect_request"
	TypeHistoryRequest    MessageType = "history_request"
	TypeIsCompleteRequest MessageType = "is_complete_request"
	TypeInterruptRequest  MessageType = "interrupt_request"
	TypeShutdownRequest   MessageType = "shutdown_request"
	TypeInputReply        MessageType = "input_reply"
)

// Reply types (kernel to client, parented to the causing request).
const (
	TypeExecuteReply    MessageType = "execute_reply"
	TypeKernelInfoReply MessageType = "kernel_info_reply"
	TypeCompleteReply   MessageType = "complete_reply"
	TypeInspectReply    MessageType = "inspect_reply"
	TypeHistoryReply    MessageType = "history_reply"
	TypeIsCompleteReply MessageType = "is_complete_reply"
	TypeInterruptReply  MessageType = "interrupt_reply"
	TypeShutdownReply   MessageType = "shutdown_reply"
	TypeInputRequest    MessageType = "input_request"
)

// Broadcast types (kernel to client on the broadcast channel).
const (
	TypeStatus            MessageType = "status"
	TypeExecuteInput      MessageType = "execute_input"
	TypeExecuteResult     MessageType = "execute_result"
	TypeStream            MessageType = "stream"
	TypeDisplayData       MessageType = "display_data"
	TypeUpdateDisplayData MessageType = "update_display_data"
	TypeError             MessageType = "error"
	TypeClearOutput       MessageType = "clear_output"
)

// Comm types (either direction).
const (
	TypeCommOpen  MessageType = "comm_open"
	TypeCommMsg   MessageType = "comm_msg"
	TypeCommClose MessageType = "comm_close"
)

// Content is the closed sum of message payloads. Every concrete
// content type in this package implements it; nothing outside the
// package can.
type Content interface {
	messageType() MessageType
}

// Message is the parsed form of one protocol message. The message type
// is derived from the concrete Content, so a Message can never carry a
// type tag that disagrees with its payload.
type Message struct {
	// ID uniquely identifies this message.
	ID string

	// ParentID is the ID of the request this message was produced in
	// response to. Empty for client-initiated requests and for
	// unsolicited kernel broadcasts (startup status, kernel-initiated
	// comm_open).
	ParentID string

	// Date is the sender's transmission time.
	Date time.Time

	// Content is the type-specific payload.
	Content Content

	// Buffers carries opaque binary attachments. Only comm messages
	// use buffers today, but the envelope allows them on any type.
	Buffers [][]byte
}

// Type returns the message type derived from the content, or the empty
// string when the message has no content.
func (m Message) Type() MessageType {
	if m.Content == nil {
		return ""
	}
	return m.Content.messageType()
}

// NewMessage builds a client-originated message with a fresh unique ID
// and the current time.
func NewMessage(content Content) Message {
	return Message{
		ID:      NewID(),
		Date:    time.Now().UTC(),
		Content: content,
	}
}

// NewReply builds a message parented to cause. Used by kernel-side
// implementations (and the bundled mock kernel) for replies and for
// broadcasts attributed to a request.
func NewReply(cause Message, content Content) Message {
	return Message{
		ID:       NewID(),
		ParentID: cause.ID,
		Date:     time.Now().UTC(),
		Content:  content,
	}
}

// NewID returns a fresh unique identifier. Message, comm, and session
// IDs all come from here.
func NewID() string {
	return uuid.NewString()
}

// Validate checks the structural invariants of a message: a non-empty
// ID and a known, non-nil content payload. Unknown content is valid;
// routing decides what to do with it.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("wire: message has no ID")
	}
	if m.Content == nil {
		return fmt.Errorf("wire: message has no content")
	}
	return nil
}
