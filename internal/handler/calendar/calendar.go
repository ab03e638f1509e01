// Package calendar books and reads out events in the user's calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/intent"
)

// Event is one calendar entry.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	Duration    time.Duration
}

// End returns the end of the event.
func (e Event) End() time.Time { return e.Start.Add(e.Duration) }

// Calendar is a calendar backend. [Google] is the production implementation.
type Calendar interface {
	Insert(ctx context.Context, ev Event) error
	Upcoming(ctx context.Context, from time.Time, n int) ([]Event, error)
}

// Spoken replies.
const (
	ReplyFailed      = "Не удалось создать событие в календаре"
	ReplyListFailed  = "Не удалось получить события из календаря"
	ReplyNone        = "В календаре нет предстоящих событий"
	ReplyUnavailable = "Календарь не настроен"

	DefaultSummary = "Встреча"
)

// Defaults for events created without an explicit time or length.
const (
	DefaultLead      = time.Hour
	DefaultDuration  = time.Hour
	DefaultListLimit = 5
)

var _ handler.Handler = (*Handler)(nil)

// Option configures a [Handler].
type Option func(*Handler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithLocation sets the time zone events are created and read out in.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.loc = loc
		}
	}
}

// WithDuration sets the length of created events.
func WithDuration(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.duration = d
		}
	}
}

// Handler serves [intent.TagCalendar].
type Handler struct {
	cal      Calendar
	now      func() time.Time
	loc      *time.Location
	duration time.Duration
}

// New returns a calendar handler. A nil cal makes every request answer
// [ReplyUnavailable].
func New(cal Calendar, opts ...Option) *Handler {
	h := &Handler{
		cal:      cal,
		now:      time.Now,
		loc:      time.Local,
		duration: DefaultDuration,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return "calendar" }

// Handle implements handler.Handler.
func (h *Handler) Handle(ctx context.Context, in intent.Intent, _ handler.DialogueContext) (handler.Response, error) {
	if h.cal == nil {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyUnavailable, errors.New("calendar: no backend configured"))
	}
	if in.Action == intent.ActionList {
		return h.list(ctx)
	}
	return h.create(ctx, in)
}

func (h *Handler) create(ctx context.Context, in intent.Intent) (handler.Response, error) {
	now := h.now()
	start := now.Add(DefaultLead)
	if in.HasTime() {
		start = in.When(now)
	}
	start = start.In(h.loc)

	summary := strings.TrimSpace(in.Message)
	if summary == "" {
		summary = DefaultSummary
	}

	ev := Event{Summary: summary, Description: in.Text, Start: start, Duration: h.duration}
	if err := h.cal.Insert(ctx, ev); err != nil {
		return handler.Response{}, h.backendError(ReplyFailed, err)
	}
	return handler.Response{
		Text: fmt.Sprintf("Событие создано: %s на %s", summary, start.Format("02.01.2006 в 15:04")),
	}, nil
}

func (h *Handler) list(ctx context.Context) (handler.Response, error) {
	events, err := h.cal.Upcoming(ctx, h.now(), DefaultListLimit)
	if err != nil {
		return handler.Response{}, h.backendError(ReplyListFailed, err)
	}
	if len(events) == 0 {
		return handler.Response{Text: ReplyNone}, nil
	}
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = fmt.Sprintf("%s: %s", ev.Start.In(h.loc).Format("02.01 в 15:04"), ev.Summary)
	}
	return handler.Response{Text: "Ближайшие события. " + strings.Join(parts, ". ")}, nil
}

func (h *Handler) backendError(reason string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &handler.Error{Handler: h.Name(), Category: handler.CategoryTimeout, Reason: reason, Err: err}
	}
	return handler.Unavailable(h.Name(), reason, err)
}
