package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/MrWong99/pivoice/internal/intent"
)

// DefaultTimeout bounds a single handler call.
const DefaultTimeout = 10 * time.Second

// Result describes one completed dispatch. It is passed to the observer
// registered with [WithObserver].
type Result struct {
	Tag      intent.Tag
	Handler  string
	Duration time.Duration
	Err      error
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithTimeout sets the per-call deadline. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithObserver registers fn to be called after every dispatch. Used for
// latency metrics.
func WithObserver(fn func(Result)) Option {
	return func(disp *Dispatcher) { disp.observe = fn }
}

// Dispatcher routes intents to the handler registered for their tag.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[intent.Tag]Handler
	timeout  time.Duration
	observe  func(Result)
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[intent.Tag]Handler),
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register installs h for tag, replacing any previous handler.
func (d *Dispatcher) Register(tag intent.Tag, h Handler) error {
	if !tag.Valid() {
		return fmt.Errorf("handler: register: unknown tag %q", tag)
	}
	if h == nil {
		return fmt.Errorf("handler: register %s: nil handler", tag)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[tag] = h
	return nil
}

// Handler returns the handler registered for tag.
func (d *Dispatcher) Handler(tag intent.Tag) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[tag]
	return h, ok
}

// Dispatch runs the handler for in.Tag under the configured timeout. The
// returned Response is always speakable: on failure its Text is the reason
// for err and the error is returned alongside for logging. A panicking
// handler is recovered into an [*Error] of category [CategoryInternal].
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.Intent, dc DialogueContext) (Response, error) {
	h, ok := d.Handler(in.Tag)
	if !ok {
		err := &Error{Handler: string(in.Tag), Category: CategoryUnavailable, Reason: ReasonNoHandler}
		return Response{Text: err.Reason}, err
	}

	start := time.Now()
	resp, err := d.call(ctx, h, in, dc)
	if d.observe != nil {
		d.observe(Result{Tag: in.Tag, Handler: h.Name(), Duration: time.Since(start), Err: err})
	}
	if err != nil {
		slog.Warn("handler: failed",
			"intent", in.Tag,
			"handler", h.Name(),
			"timeout", errors.Is(err, context.DeadlineExceeded),
			"err", err,
		)
		return Response{Text: Reason(err)}, err
	}
	return resp, nil
}

type outcome struct {
	resp Response
	err  error
}

// call runs h on its own goroutine so that a handler ignoring ctx cannot
// hold the caller past the deadline.
func (d *Dispatcher) call(ctx context.Context, h Handler, in intent.Intent, dc DialogueContext) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("handler: panic", "handler", h.Name(), "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: &Error{
					Handler:  h.Name(),
					Category: CategoryInternal,
					Err:      fmt.Errorf("panic: %v", r),
				}}
			}
		}()
		resp, err := h.Handle(ctx, in, dc)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			var he *Error
			if !errors.As(o.err, &he) {
				o.err = &Error{Handler: h.Name(), Category: CategoryTimeout, Err: o.err}
			}
		}
		return o.resp, o.err
	case <-ctx.Done():
		cat := CategoryTimeout
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cat = CategoryInternal
		}
		return Response{}, &Error{Handler: h.Name(), Category: cat, Err: ctx.Err()}
	}
}
