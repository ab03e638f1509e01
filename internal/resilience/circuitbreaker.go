// Package resilience keeps the assistant answering when a speech or language
// backend misbehaves.
//
// A [Breaker] stops calling a backend after a run of failures and lets a
// single probe through once its cooldown has passed. [FallbackGroup] chains
// several backends of the same kind, each behind its own breaker, and the
// STT, TTS and LLM wrappers in this package expose a group as a plain
// provider.
//
// Cancelled calls are neutral: a barge-in or shutdown that abandons a request
// does not count against the backend.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Execute] while calls are rejected.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has elapsed.
	StateOpen
	// StateHalfOpen lets one probe call through at a time.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default 3.
	Threshold int

	// Cooldown is how long an open breaker rejects calls. Default 20s.
	Cooldown time.Duration

	// Probes is the number of consecutive successful probes needed to close
	// a half-open breaker. Default 1.
	Probes int

	// Clock replaces time.Now in tests.
	Clock func() time.Time

	// OnStateChange, if set, is called with the lock released after every
	// transition.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	passed   int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 20 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Execute calls fn unless the breaker rejects it with [ErrBreakerOpen]. An
// error matching [context.Canceled] leaves the counters untouched.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.release(probe, err)
	return err
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	var change func()
	defer func() {
		b.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	if b.state == StateOpen {
		if b.cfg.Clock().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrBreakerOpen
		}
		change = b.moveLocked(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.probing {
			return false, ErrBreakerOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool, err error) {
	b.mu.Lock()
	var change func()
	defer func() {
		b.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	if probe {
		b.probing = false
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	if err != nil {
		b.passed = 0
		if probe {
			change = b.tripLocked()
			return
		}
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.Threshold {
			change = b.tripLocked()
		}
		return
	}

	b.failures = 0
	if probe {
		b.passed++
		if b.passed >= b.cfg.Probes {
			b.passed = 0
			change = b.moveLocked(StateClosed)
		}
	}
}

// tripLocked opens the breaker. Callers hold b.mu.
func (b *Breaker) tripLocked() func() {
	b.openedAt = b.cfg.Clock()
	b.failures = 0
	return b.moveLocked(StateOpen)
}

// moveLocked sets the state and returns the notification to run after
// unlocking. Callers hold b.mu.
func (b *Breaker) moveLocked(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	name, notify := b.cfg.Name, b.cfg.OnStateChange
	return func() {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "resilience: breaker state changed",
			"backend", name, "from", from.String(), "to", to.String())
		if notify != nil {
			notify(name, from, to)
		}
	}
}

// State reports the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Clock().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures, b.passed, b.probing = 0, 0, false
	change := b.moveLocked(StateClosed)
	b.mu.Unlock()
	if change != nil {
		change()
	}
}
