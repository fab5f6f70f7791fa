// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package history persists executed code across sessions. The console
// feeds its recall list from here and merges the local tail with
// whatever history the kernel itself reports.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/thyone-project/thyone/lib/sqlitepool"
	"github.com/thyone-project/thyone/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id          INTEGER PRIMARY KEY,
	session     TEXT    NOT NULL,
	line        INTEGER NOT NULL,
	source      TEXT    NOT NULL,
	started_ms  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	status      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS history_by_time ON history (started_ms, id);
`

// Entry is one executed submission.
type Entry struct {
	// Session identifies the session the code ran in.
	Session string

	// Line is the kernel's execution counter for the submission.
	Line int

	Source   string
	Started  time.Time
	Duration time.Duration

	// Status is the reply outcome: ok, error, or aborted.
	Status wire.ReplyStatus
}

// Store is the SQLite-backed history database. Safe for concurrent
// use.
type Store struct {
	pool *sqlitepool.Pool
}

// Open creates or opens the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Append records one executed submission.
func (s *Store) Append(ctx context.Context, entry Entry) error {
	if entry.Session == "" {
		return fmt.Errorf("history: entry has no session")
	}
	if entry.Source == "" {
		return fmt.Errorf("history: entry has no source")
	}
	if entry.Status == "" {
		entry.Status = wire.StatusOK
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO history (session, line, source, started_ms, duration_ms, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				entry.Session,
				entry.Line,
				entry.Source,
				entry.Started.UnixMilli(),
				entry.Duration.Milliseconds(),
				string(entry.Status),
			},
		})
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Tail returns the most recent limit entries, oldest first.
func (s *Store) Tail(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT session, line, source, started_ms, duration_ms, status
		FROM history ORDER BY started_ms DESC, id DESC LIMIT ?`,
		[]any{limit})
}

// Search returns the most recent limit entries whose source matches
// the GLOB pattern, oldest first. The pattern language is SQLite GLOB,
// the same one kernels use for history_request patterns.
func (s *Store) Search(ctx context.Context, pattern string, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT session, line, source, started_ms, duration_ms, status
		FROM history WHERE source GLOB ? ORDER BY started_ms DESC, id DESC LIMIT ?`,
		[]any{pattern, limit})
}

// RecentSources returns up to limit distinct submissions, newest
// first. This is the console's recall order: repeating an old command
// moves it to the front without duplicating it.
func (s *Store) RecentSources(ctx context.Context, limit int) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: recent sources: %w", err)
	}
	defer s.pool.Put(conn)

	var sources []string
	err = sqlitex.Execute(conn, `
		SELECT source, MAX(id) AS latest
		FROM history GROUP BY source ORDER BY latest DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sources = append(sources, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: recent sources: %w", err)
	}
	return sources, nil
}

func (s *Store) query(ctx context.Context, sql string, args []any) ([]Entry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer s.pool.Put(conn)

	var entries []Entry
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries = append(entries, Entry{
				Session:  stmt.ColumnText(0),
				Line:     stmt.ColumnInt(1),
				Source:   stmt.ColumnText(2),
				Started:  time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
				Duration: time.Duration(stmt.ColumnInt64(4)) * time.Millisecond,
				Status:   wire.ReplyStatus(stmt.ColumnText(5)),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}

	// Newest-first from the index, oldest-first for callers.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
