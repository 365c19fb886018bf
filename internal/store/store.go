// Package store is the local journal: a record of every streamed response
// and the last UI context, kept in SQLite next to the logs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"Helix/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS stream_runs (
	id          TEXT PRIMARY KEY,
	surface     TEXT NOT NULL,
	model       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	status      TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	text        TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS stream_runs_started ON stream_runs(started_at);

CREATE TABLE IF NOT EXISTS ui_context (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	email   TEXT NOT NULL DEFAULT '',
	chat_id TEXT NOT NULL DEFAULT '',
	note_id TEXT NOT NULL DEFAULT '',
	model   TEXT NOT NULL DEFAULT ''
);
`

// Run is one finished stream.
type Run struct {
	ID         string
	Surface    string
	Model      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	TokenCount int
	Text       string
	Error      string
}

// Store wraps the journal database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases coherent and writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun inserts run, assigning an id when it has none.
func (s *Store) RecordRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_runs (id, surface, model, started_at, finished_at, status, token_count, text, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Surface, run.Model, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Status, run.TokenCount, run.Text, run.Error,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record stream run: %w", err)
	}
	return run.ID, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, surface, model, started_at, finished_at, status, token_count, text, error
		 FROM stream_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load stream runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Surface, &r.Model, &r.StartedAt, &r.FinishedAt,
			&r.Status, &r.TokenCount, &r.Text, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan stream run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveContext stores the parts of the UI context worth restoring. Tokens
// and contact are left out; the backend is the source of truth for them.
func (s *Store) SaveContext(ctx context.Context, c session.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ui_context (id, email, chat_id, note_id, model) VALUES (1, ?, ?, ?, ?)`,
		c.Email, c.ChatID, c.NoteID, c.Model,
	)
	if err != nil {
		return fmt.Errorf("failed to save ui context: %w", err)
	}
	return nil
}

// LoadContext returns the saved UI context. The second result is false
// when nothing was saved yet.
func (s *Store) LoadContext(ctx context.Context) (session.Context, bool, error) {
	var c session.Context
	err := s.db.QueryRowContext(ctx,
		`SELECT email, chat_id, note_id, model FROM ui_context WHERE id = 1`,
	).Scan(&c.Email, &c.ChatID, &c.NoteID, &c.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Context{}, false, nil
	}
	if err != nil {
		return session.Context{}, false, fmt.Errorf("failed to load ui context: %w", err)
	}
	return c, true, nil
}
