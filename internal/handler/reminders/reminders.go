// Package reminders creates, lists and cancels reminders through the
// reminder scheduler.
package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/intent"
	"github.com/MrWong99/pivoice/internal/reminder"
	"github.com/MrWong99/pivoice/internal/transcript/phonetic"
)

var _ handler.Handler = (*Handler)(nil)

// Spoken replies.
const (
	ReplyNoTime    = "Не удалось понять время напоминания. Попробуйте сказать, например: напомни через 10 минут купить молоко"
	ReplyNoMessage = "Не понял, о чём напомнить"
	ReplyNone      = "У вас нет активных напоминаний"
	ReplyNotFound  = "Такое напоминание не найдено"
	ReplyFailed    = "Не удалось создать напоминание"
)

// DefaultListLimit caps how many reminders are read out.
const DefaultListLimit = 5

// Scheduler is the part of [reminder.Scheduler] the handler uses.
type Scheduler interface {
	Schedule(d time.Duration, message string) (reminder.ID, error)
	ScheduleAt(t time.Time, message string) (reminder.ID, error)
	Cancel(id reminder.ID) bool
	Upcoming(n int) []reminder.Reminder
}

// Option configures a [Handler].
type Option func(*Handler)

// WithClock overrides the time source used for confirmations.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithListLimit sets how many reminders a list request reads out.
func WithListLimit(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.limit = n
		}
	}
}

// Handler serves [intent.TagReminder].
type Handler struct {
	sched   Scheduler
	matcher *phonetic.Matcher
	now     func() time.Time
	limit   int
}

// New returns a reminder handler backed by sched.
func New(sched Scheduler, opts ...Option) *Handler {
	h := &Handler{
		sched:   sched,
		matcher: phonetic.New(),
		now:     time.Now,
		limit:   DefaultListLimit,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return "reminders" }

// Handle implements handler.Handler.
func (h *Handler) Handle(_ context.Context, in intent.Intent, _ handler.DialogueContext) (handler.Response, error) {
	switch in.Action {
	case intent.ActionList:
		return h.list(), nil
	case intent.ActionCancel:
		return h.cancel(in.Message)
	default:
		return h.create(in)
	}
}

func (h *Handler) create(in intent.Intent) (handler.Response, error) {
	if !in.HasTime() {
		return handler.Response{}, handler.Invalid(h.Name(), ReplyNoTime)
	}
	if strings.TrimSpace(in.Message) == "" {
		return handler.Response{}, handler.Invalid(h.Name(), ReplyNoMessage)
	}

	now := h.now()
	var err error
	if in.Delay > 0 {
		_, err = h.sched.Schedule(in.Delay, in.Message)
	} else {
		_, err = h.sched.ScheduleAt(in.At, in.Message)
	}
	if err != nil {
		return handler.Response{}, &handler.Error{
			Handler:  h.Name(),
			Category: handler.CategoryInvalid,
			Reason:   ReplyFailed,
			Err:      err,
		}
	}

	when := in.When(now).In(now.Location())
	return handler.Response{
		Text: fmt.Sprintf("Напоминание создано на %s: %s", when.Format("02.01.2006 в 15:04"), in.Message),
	}, nil
}

func (h *Handler) list() handler.Response {
	upcoming := h.sched.Upcoming(h.limit)
	if len(upcoming) == 0 {
		return handler.Response{Text: ReplyNone}
	}
	loc := h.now().Location()
	parts := make([]string, len(upcoming))
	for i, r := range upcoming {
		parts[i] = fmt.Sprintf("%s: %s", r.FireAt.In(loc).Format("02.01 в 15:04"), r.Message)
	}
	return handler.Response{Text: "Ближайшие напоминания. " + strings.Join(parts, ". ")}
}

// query words that do not identify a reminder
var cancelFillers = map[string]bool{"про": true, "о": true, "об": true, "мое": true, "моё": true, "все": true}

func (h *Handler) cancel(query string) (handler.Response, error) {
	upcoming := h.sched.Upcoming(0)
	if len(upcoming) == 0 {
		return handler.Response{Text: ReplyNone}, nil
	}

	var words []string
	for _, w := range strings.Fields(query) {
		if !cancelFillers[w] {
			words = append(words, w)
		}
	}

	target := upcoming[0]
	if len(words) > 0 {
		msgs := make([]string, len(upcoming))
		for i, r := range upcoming {
			msgs[i] = r.Message
		}
		best, _, ok := h.matcher.Match(strings.Join(words, " "), msgs)
		if !ok {
			return handler.Response{}, handler.NotFound(h.Name(), ReplyNotFound)
		}
		for _, r := range upcoming {
			if r.Message == best {
				target = r
				break
			}
		}
	}

	if !h.sched.Cancel(target.ID) {
		return handler.Response{}, handler.NotFound(h.Name(), ReplyNotFound)
	}
	return handler.Response{Text: "Напоминание отменено: " + target.Message}, nil
}
