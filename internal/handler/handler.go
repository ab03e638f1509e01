// Package handler defines the boundary between the intent router and the
// services that act on an intent: chat, weather, news, smart home,
// reminders, calendar and system control.
//
// Each handler turns one [intent.Intent] into a [Response] the session
// controller speaks. Failures are returned as errors; the [Dispatcher] maps
// them to a spoken reason so that no recoverable failure ends a cycle in
// silence.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/pivoice/internal/intent"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

// ErrUnavailable matches every [*Error] of category [CategoryUnavailable].
var ErrUnavailable = errors.New("handler: service unavailable")

// Category classifies a handler failure.
type Category string

const (
	// CategoryUnavailable means a backend is missing, disabled or unreachable.
	CategoryUnavailable Category = "unavailable"

	// CategoryInvalid means the request lacked what the handler needs.
	CategoryInvalid Category = "invalid"

	// CategoryNotFound means the request named something that does not exist.
	CategoryNotFound Category = "not_found"

	// CategoryTimeout means the handler exceeded its deadline.
	CategoryTimeout Category = "timeout"

	// CategoryInternal covers panics and unexpected failures.
	CategoryInternal Category = "internal"
)

// Spoken fallbacks for failures that carry no reason of their own.
const (
	ReasonGeneric     = "Произошла ошибка при обработке запроса"
	ReasonTimeout     = "Сервис не ответил вовремя, попробуйте позже"
	ReasonUnavailable = "Сервис временно недоступен"
	ReasonNoHandler   = "Эта функция пока не поддерживается"
)

// Error is a handler failure with a reason safe to speak to the user.
type Error struct {
	Handler  string
	Category Category
	// Reason is user-facing Russian text. Empty falls back to a generic
	// message for the category.
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("handler %s: %s", e.Handler, e.Category)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is [ErrUnavailable] and e is an unavailable error.
func (e *Error) Is(target error) bool {
	return target == ErrUnavailable && e.Category == CategoryUnavailable
}

// Unavailable returns an [*Error] of category [CategoryUnavailable].
func Unavailable(handler, reason string, err error) *Error {
	return &Error{Handler: handler, Category: CategoryUnavailable, Reason: reason, Err: err}
}

// Invalid returns an [*Error] of category [CategoryInvalid].
func Invalid(handler, reason string) *Error {
	return &Error{Handler: handler, Category: CategoryInvalid, Reason: reason}
}

// NotFound returns an [*Error] of category [CategoryNotFound].
func NotFound(handler, reason string) *Error {
	return &Error{Handler: handler, Category: CategoryNotFound, Reason: reason}
}

// Reason returns the text to speak for err.
func Reason(err error) string {
	var he *Error
	if errors.As(err, &he) {
		if he.Reason != "" {
			return he.Reason
		}
		switch he.Category {
		case CategoryTimeout:
			return ReasonTimeout
		case CategoryUnavailable:
			return ReasonUnavailable
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonGeneric
}

// Directive asks the session controller to change its lifecycle after the
// response has been spoken.
type Directive int

const (
	DirectiveNone Directive = iota
	DirectiveShutdown
	DirectiveForget
)

// String returns the directive name.
func (d Directive) String() string {
	switch d {
	case DirectiveNone:
		return "none"
	case DirectiveShutdown:
		return "shutdown"
	case DirectiveForget:
		return "forget"
	default:
		return fmt.Sprintf("Directive(%d)", int(d))
	}
}

// DeviceCommand records a smart-home side effect carried out by a handler.
type DeviceCommand struct {
	Device string
	State  intent.DeviceState
}

// Response is what a handler produces for one intent.
type Response struct {
	// Text is spoken to the user. Empty means silence.
	Text string

	// DeviceCommand is set when the handler changed a device.
	DeviceCommand *DeviceCommand

	Directive Directive
}

// DialogueContext is a read-only snapshot of recent turns handed to each
// handler. Only chat uses it today.
type DialogueContext struct {
	History []llm.Message
}

// Handler acts on one intent. Implementations must honour ctx cancellation
// and be safe for concurrent use.
type Handler interface {
	// Name identifies the handler in logs and metrics.
	Name() string

	// Handle produces the response for in.
	Handle(ctx context.Context, in intent.Intent, dc DialogueContext) (Response, error)
}

// Func adapts a function to [Handler].
type Func struct {
	HandlerName string
	Fn          func(ctx context.Context, in intent.Intent, dc DialogueContext) (Response, error)
}

// Name implements Handler.
func (f Func) Name() string { return f.HandlerName }

// Handle implements Handler.
func (f Func) Handle(ctx context.Context, in intent.Intent, dc DialogueContext) (Response, error) {
	return f.Fn(ctx, in, dc)
}
