// Package system answers the assistant's own commands: shutdown, context
// reset, the current time and date, and input that could not be understood.
package system

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/intent"
)

var _ handler.Handler = (*Handler)(nil)

// Fixed replies.
const (
	ReplyShutdown = "Завершаю работу. До свидания!"
	ReplyForget   = "Контекст разговора сброшен"
	ReplyInvalid  = "Получена некорректная команда"
)

var months = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

var weekdays = [...]string{
	"воскресенье", "понедельник", "вторник", "среда", "четверг", "пятница", "суббота",
}

// Option configures a [Handler].
type Option func(*Handler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithLocation renders times in loc instead of the clock's own zone.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) { h.loc = loc }
}

// Handler serves [intent.TagSystem] and [intent.TagUnknown].
type Handler struct {
	now func() time.Time
	loc *time.Location
}

// New returns a system handler.
func New(opts ...Option) *Handler {
	h := &Handler{now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return "system" }

// Handle implements handler.Handler.
func (h *Handler) Handle(_ context.Context, in intent.Intent, _ handler.DialogueContext) (handler.Response, error) {
	if in.Tag == intent.TagUnknown {
		return handler.Response{Text: ReplyInvalid}, nil
	}

	now := h.now()
	if h.loc != nil {
		now = now.In(h.loc)
	}

	switch in.Action {
	case intent.ActionShutdown:
		return handler.Response{Text: ReplyShutdown, Directive: handler.DirectiveShutdown}, nil
	case intent.ActionForget:
		return handler.Response{Text: ReplyForget, Directive: handler.DirectiveForget}, nil
	case intent.ActionTime:
		return handler.Response{Text: "Сейчас " + now.Format("15:04")}, nil
	case intent.ActionDate:
		return handler.Response{Text: FormatDate(now)}, nil
	default:
		return handler.Response{}, handler.Invalid(h.Name(), fmt.Sprintf("Неизвестная системная команда %q", in.Action))
	}
}

// FormatDate renders t as "Сегодня суббота, 14 марта 2026 года".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("Сегодня %s, %d %s %d года", weekdays[t.Weekday()], t.Day(), months[t.Month()-1], t.Year())
}
