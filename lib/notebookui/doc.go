// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package notebookui renders kernel output for the terminal and hosts
// the interactive bubbletea views: the console transcript, the
// notebook cell list, and the kernel picker.
//
// Rendering is split from the models so the cmd layer (and tests) can
// use it directly: markdown via a goldmark AST walk, source code via
// chroma, MIME bundles picked by richest-first preference. Rendered
// blocks are memoized in a [RenderCache] keyed by a BLAKE3 digest of
// the render inputs.
//
// The models talk to the kernel through the [Driver] interface; the
// session side delivers events back as the message types in this
// package (ExecQueuedMsg, ExecOutputMsg, and friends) via
// Program.Send.
package notebookui
