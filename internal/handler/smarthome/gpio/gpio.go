// Package gpio drives smart-home relays wired to the host's GPIO header.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/MrWong99/pivoice/internal/handler/smarthome"
)

var (
	_ smarthome.Controller = (*Controller)(nil)
	_ smarthome.Lister     = (*Controller)(nil)
)

// Controller switches one output pin per device. A device is on while its
// pin is driven high. State is tracked in memory since output pins cannot
// be read back reliably.
type Controller struct {
	mu    sync.Mutex
	pins  map[string]gpio.PinOut
	state map[string]bool
}

// New takes ownership of pins keyed by device name and drives them low.
func New(pins map[string]gpio.PinOut) (*Controller, error) {
	c := &Controller{
		pins:  make(map[string]gpio.PinOut, len(pins)),
		state: make(map[string]bool, len(pins)),
	}
	for name, pin := range pins {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || pin == nil {
			return nil, fmt.Errorf("gpio: invalid device %q", name)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("gpio: init %s on %s: %w", name, pin, err)
		}
		c.pins[name] = pin
		c.state[name] = false
		slog.Info("gpio: device configured", "device", name, "pin", pin.String())
	}
	return c, nil
}

// Open initialises the host drivers and resolves each pin by name
// ("GPIO17", "17"). devices maps device name to pin name.
func Open(devices map[string]string) (*Controller, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: init host: %w", err)
	}
	pins := make(map[string]gpio.PinOut, len(devices))
	for device, pinName := range devices {
		p := gpioreg.ByName(pinName)
		if p == nil {
			return nil, fmt.Errorf("gpio: pin %q for %q not found", pinName, device)
		}
		pins[device] = p
	}
	return New(pins)
}

// Set implements smarthome.Controller.
func (c *Controller) Set(_ context.Context, device string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pin, ok := c.pins[device]
	if !ok {
		return fmt.Errorf("gpio: %q: %w", device, smarthome.ErrUnknownDevice)
	}
	if err := pin.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("gpio: set %s: %w", device, err)
	}
	c.state[device] = on
	slog.Info("gpio: device switched", "device", device, "on", on)
	return nil
}

// State implements smarthome.Controller.
func (c *Controller) State(_ context.Context, device string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	on, ok := c.state[device]
	if !ok {
		return false, fmt.Errorf("gpio: %q: %w", device, smarthome.ErrUnknownDevice)
	}
	return on, nil
}

// Devices implements smarthome.Lister.
func (c *Controller) Devices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.pins))
}

// Close drives every pin low.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, pin := range c.pins {
		if err := pin.Out(gpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("gpio: release %s: %w", name, err))
		}
		c.state[name] = false
	}
	return errors.Join(errs...)
}
