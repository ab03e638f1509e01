package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultBounce is the minimum spacing between two accepted presses.
const DefaultBounce = 200 * time.Millisecond

const edgePoll = 100 * time.Millisecond

// ButtonOption configures a [Button].
type ButtonOption func(*Button)

// WithBounce overrides [DefaultBounce].
func WithBounce(d time.Duration) ButtonOption {
	return func(b *Button) {
		b.bounce = d
	}
}

// Button delivers a trigger on every falling edge of an active-low push
// button wired between a GPIO pin and ground.
type Button struct {
	pin    gpio.PinIn
	bounce time.Duration
	now    func() time.Time
}

// NewButton wraps an already-resolved pin.
func NewButton(pin gpio.PinIn, opts ...ButtonOption) *Button {
	b := &Button{pin: pin, bounce: DefaultBounce, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// OpenButton initialises the host drivers and resolves the pin by name
// ("GPIO17", "17").
func OpenButton(name string, opts ...ButtonOption) (*Button, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("wake: init gpio host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("wake: gpio pin %q not found", name)
	}
	return NewButton(pin, opts...), nil
}

// Run watches the pin until ctx is cancelled and calls onPress for every
// debounced press. It returns nil on cancellation.
func (b *Button) Run(ctx context.Context, onPress func()) error {
	if onPress == nil {
		return errors.New("wake: button callback must not be nil")
	}
	if err := b.pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("wake: configure button pin %s: %w", b.pin, err)
	}
	slog.Info("wake: button armed", "pin", b.pin.String())

	var last time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !b.pin.WaitForEdge(edgePoll) {
			continue
		}
		if b.pin.Read() != gpio.Low {
			continue
		}
		now := b.now()
		if !last.IsZero() && now.Sub(last) < b.bounce {
			continue
		}
		last = now
		onPress()
	}
}
