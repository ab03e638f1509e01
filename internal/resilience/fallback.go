package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when no backend of a [FallbackGroup] produced a
// result. The last backend error stays in the chain.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Breaker is the template for each backend's breaker; Name is replaced
	// with the backend name.
	Breaker BreakerConfig

	// OnResult, if set, is called after every attempt that reached a
	// backend. err is nil on success.
	OnResult func(provider string, err error, elapsed time.Duration)
}

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup holds a primary backend and its fallbacks, tried in
// registration order. Register every backend before the first call.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend behind the ones already registered.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	bc := fg.cfg.Breaker
	bc.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: fallback, breaker: NewBreaker(bc)})
}

// Names lists the backends in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, 0, len(fg.members))
	for _, m := range fg.members {
		names = append(names, m.name)
	}
	return names
}

// Healthy reports whether some backend would accept a call now.
func (fg *FallbackGroup[T]) Healthy() bool {
	for _, m := range fg.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute runs fn against each backend until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against each backend of fg until one succeeds and
// returns its result. Backends with an open breaker are skipped. A cancelled
// call ends the attempt without trying further backends.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, m := range fg.members {
		var out R
		err := m.breaker.Execute(func() error {
			start := time.Now()
			var err error
			out, err = fn(m.value)
			if fg.cfg.OnResult != nil {
				fg.cfg.OnResult(m.name, err, time.Since(start))
			}
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrBreakerOpen):
			slog.Debug("resilience: skipping backend", "backend", m.name, "reason", "breaker open")
		default:
			slog.Warn("resilience: backend failed", "backend", m.name, "err", err,
				"timeout", errors.Is(err, context.DeadlineExceeded))
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
