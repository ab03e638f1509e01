// Package sqlitestore persists reminders in a local SQLite file using the
// pure-Go modernc.org/sqlite driver, so the binary stays CGO-free on the Pi.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/pivoice/internal/reminder"
)

// Schema is the DDL for the reminders table.
const Schema = `
CREATE TABLE IF NOT EXISTS reminders (
    id         TEXT PRIMARY KEY,
    message    TEXT NOT NULL,
    fire_at    INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_fire_at ON reminders(fire_at);
`

var _ reminder.Store = (*Store)(nil)

// Store is a [reminder.Store] backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for an in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: execute %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return s, nil
}

// Save implements reminder.Store.
func (s *Store) Save(ctx context.Context, r reminder.Reminder) error {
	const query = `
		INSERT INTO reminders (id, message, fire_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message = excluded.message,
			fire_at = excluded.fire_at`
	_, err := s.db.ExecContext(ctx, query, string(r.ID), r.Message, r.FireAt.UnixMilli(), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlitestore: save %s: %w", r.ID, err)
	}
	return nil
}

// Delete implements reminder.Store.
func (s *Store) Delete(ctx context.Context, id reminder.ID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", id, err)
	}
	return nil
}

// Pending implements reminder.Store.
func (s *Store) Pending(ctx context.Context) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, message, fire_at, created_at FROM reminders ORDER BY fire_at, created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		var (
			id                string
			r                 reminder.Reminder
			fireAt, createdAt int64
		)
		if err := rows.Scan(&id, &r.Message, &fireAt, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		r.ID = reminder.ID(id)
		r.FireAt = time.UnixMilli(fireAt)
		r.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	return out, nil
}

// Ping checks the database connection. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
