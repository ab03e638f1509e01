// Package reminder schedules spoken notifications.
//
// A [Scheduler] keeps pending reminders in a map keyed by ID plus a min-heap
// ordered by fire time, and its Run loop sleeps until the next deadline.
// Fired reminders are delivered on [Scheduler.Fired]; the session controller
// decides when they may be spoken. An optional [Store] persists reminders
// across restarts.
package reminder

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyMessage is returned when a reminder has no text.
	ErrEmptyMessage = errors.New("reminder: message must not be empty")

	// ErrInPast is returned when a reminder would fire before now.
	ErrInPast = errors.New("reminder: fire time is in the past")
)

// ID identifies a reminder.
type ID string

// Reminder is one scheduled notification.
type Reminder struct {
	ID        ID
	FireAt    time.Time
	Message   string
	CreatedAt time.Time
}

// Store persists pending reminders. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts or replaces r.
	Save(ctx context.Context, r Reminder) error

	// Delete removes the reminder with id. Deleting an unknown id is not an
	// error.
	Delete(ctx context.Context, id ID) error

	// Pending returns every stored reminder ordered by fire time.
	Pending(ctx context.Context) ([]Reminder, error)
}
