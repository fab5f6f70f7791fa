// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the kernel protocol wire format: the message
// envelope, the closed set of message content types, the two supported
// payload codecs (JSON and deterministic CBOR), and the signed length-
// prefixed framing used on every kernel channel.
//
// A message on the wire is one frame:
//
//	[4-byte big-endian payload length][32-byte HMAC-SHA256][envelope]
//
// The envelope is the codec-encoded form of [Message]: a unique ID, the
// message type, the ID of the request that caused it (absent on
// client-initiated requests and unsolicited broadcasts), a timestamp,
// the type-specific content, and optional opaque binary buffers.
//
// Content is decoded into exactly one of the concrete types in this
// package at the transport boundary. Consumers dispatch with a type
// switch over [Content]; a message whose type is not known to this
// build decodes to [UnknownContent] so callers can log and drop it
// without tearing down the connection.
package wire
