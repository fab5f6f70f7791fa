// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport connects clients and kernels over TCP.
//
// A kernel connection is five TCP streams, one per protocol channel:
//
//	shell      request/reply for execution and introspection
//	iopub      kernel-to-client broadcasts (status, output, comms)
//	stdin      kernel-initiated input prompts and their replies
//	control    out-of-band requests (interrupt, shutdown)
//	heartbeat  liveness echo, no protocol messages
//
// The four message channels carry signed frames in the format defined
// by package wire. The heartbeat channel echoes raw bytes. Addresses,
// the signing key, and the payload codec come from a connection
// descriptor ([ConnectInfo]), persisted as a JSON connection file so
// other processes can attach to a running kernel.
//
// [Dial] produces the client side of a connection, [Listen]/Accept the
// kernel side. Both sides get the same [Conn]: four writable channels
// and a single fan-in stream of inbound messages, so the consumer sees
// one deterministic order regardless of which socket a message arrived
// on.
package transport
