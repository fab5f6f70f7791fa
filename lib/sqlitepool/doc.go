// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by every
// Thyone store: execution history, the kernel registry, anything that
// outlives a single session. It wraps zombiezen.com/go/sqlite with the
// defaults an interactive client wants: WAL journaling so a long
// history query never blocks the session writing new entries, NORMAL
// synchronous for process-crash durability without an fsync per
// executed cell, and a busy timeout so two Thyone processes sharing a
// history file degrade to waiting instead of erroring.
//
// The pool is zombiezen's sqlitex.Pool with per-connection setup.
// Callers [Pool.Take] a connection, work, and [Pool.Put] it back; a
// connection is never safe for concurrent use.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: readers and the writer never block each other.
//   - synchronous=NORMAL: commits survive a process crash. An OS crash
//     can lose the tail of history, which is acceptable; the notebook
//     file is the source of truth for anything that matters.
//   - busy_timeout=5000: wait up to five seconds for the write lock
//     instead of surfacing SQLITE_BUSY to the caller.
//   - foreign_keys=OFF: the stores manage their own referential
//     integrity; history rows reference sessions that may already be
//     pruned.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY: sort and index scratch space in memory.
//
// # Design
//
// The package is deliberately thin. It applies the pragmas and exposes
// the zombiezen types directly: stores write SQL, use sqlitex.Execute
// for cached statements, and create their schema in OnConnect. There
// is no query builder and no ORM; SQLite's own interface is the API.
package sqlitepool
