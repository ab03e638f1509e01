// Package pgstore persists reminders in PostgreSQL via pgx. It is the
// shared-household alternative to the local SQLite file.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/pivoice/internal/reminder"
)

// Schema is the SQL DDL for the reminders table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS pivoice_reminders (
    id         TEXT PRIMARY KEY,
    message    TEXT NOT NULL,
    fire_at    TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pivoice_reminders_fire_at ON pivoice_reminders(fire_at);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ reminder.Store = (*Store)(nil)

// Store is a [reminder.Store] backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// New wraps an existing connection or pool. The caller runs [Store.Migrate].
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pool for dsn, pings it and applies [Schema].
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema] against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// Save implements reminder.Store. An existing row with the same ID is
// overwritten.
func (s *Store) Save(ctx context.Context, r reminder.Reminder) error {
	const q = `
		INSERT INTO pivoice_reminders (id, message, fire_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			message = EXCLUDED.message,
			fire_at = EXCLUDED.fire_at`
	if _, err := s.db.Exec(ctx, q, string(r.ID), r.Message, r.FireAt, r.CreatedAt); err != nil {
		return fmt.Errorf("pgstore: save %s: %w", r.ID, err)
	}
	return nil
}

// Delete implements reminder.Store. Deleting an unknown ID is not an error.
func (s *Store) Delete(ctx context.Context, id reminder.ID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM pivoice_reminders WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", id, err)
	}
	return nil
}

// Pending implements reminder.Store.
func (s *Store) Pending(ctx context.Context) ([]reminder.Reminder, error) {
	rows, err := s.db.Query(ctx, `SELECT id, message, fire_at, created_at FROM pivoice_reminders ORDER BY fire_at, created_at`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		var (
			id                string
			msg               string
			fireAt, createdAt time.Time
		)
		if err := rows.Scan(&id, &msg, &fireAt, &createdAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		out = append(out, reminder.Reminder{
			ID:        reminder.ID(id),
			Message:   msg,
			FireAt:    fireAt,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	return out, nil
}

// Ping checks the pool opened by [Connect]. Stores built with [New] always
// report healthy.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases the pool opened by [Connect].
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
