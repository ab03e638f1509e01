// Package smarthome switches household devices on and off and reports their
// state. Backends implement [Controller]; the gpio subpackage drives relays
// wired to the Pi and the mqtt subpackage publishes to a broker.
package smarthome

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/intent"
	"github.com/MrWong99/pivoice/internal/transcript/phonetic"
)

var (
	// ErrUnknownDevice is returned by a Controller for a device it does not
	// manage.
	ErrUnknownDevice = errors.New("smarthome: unknown device")

	// ErrStateUnknown is returned by State when the backend has not yet
	// observed the device.
	ErrStateUnknown = errors.New("smarthome: device state unknown")
)

// Controller is a smart-home backend. Device names are lower case.
type Controller interface {
	Set(ctx context.Context, device string, on bool) error
	State(ctx context.Context, device string) (bool, error)
}

// Lister is implemented by controllers that know their devices up front.
type Lister interface {
	Devices() []string
}

// ReplyNoDevice is spoken when the request named no device.
const ReplyNoDevice = "Не понял, каким устройством управлять"

var _ handler.Handler = (*Handler)(nil)

// Option configures a [Handler].
type Option func(*Handler)

// WithDevices adds names the spoken device is resolved against, on top of
// those a [Lister] controller reports.
func WithDevices(names ...string) Option {
	return func(h *Handler) { h.devices = append(h.devices, names...) }
}

// WithMatcher replaces the phonetic matcher used to resolve device names.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(h *Handler) { h.matcher = m }
}

// Handler serves [intent.TagSmartHome].
type Handler struct {
	ctrl    Controller
	devices []string
	matcher *phonetic.Matcher
}

// New returns a smart-home handler driving ctrl.
func New(ctrl Controller, opts ...Option) *Handler {
	h := &Handler{ctrl: ctrl, matcher: phonetic.New()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return "smarthome" }

// Handle implements handler.Handler.
func (h *Handler) Handle(ctx context.Context, in intent.Intent, _ handler.DialogueContext) (handler.Response, error) {
	if in.Device == "" {
		return handler.Response{}, handler.Invalid(h.Name(), ReplyNoDevice)
	}
	device, ok := h.resolve(in.Device)
	if !ok {
		return handler.Response{}, notFound(h.Name(), in.Device)
	}

	switch in.DeviceState {
	case intent.StateOn, intent.StateOff:
		on := in.DeviceState == intent.StateOn
		if err := h.ctrl.Set(ctx, device, on); err != nil {
			if errors.Is(err, ErrUnknownDevice) {
				return handler.Response{}, notFound(h.Name(), device)
			}
			verb := "выключении"
			if on {
				verb = "включении"
			}
			return handler.Response{}, handler.Unavailable(h.Name(), fmt.Sprintf("Ошибка при %s %s", verb, device), err)
		}
		return handler.Response{
			Text:          device + " " + stateWord(on),
			DeviceCommand: &handler.DeviceCommand{Device: device, State: in.DeviceState},
		}, nil

	default:
		on, err := h.ctrl.State(ctx, device)
		switch {
		case errors.Is(err, ErrUnknownDevice):
			return handler.Response{}, notFound(h.Name(), device)
		case errors.Is(err, ErrStateUnknown):
			return handler.Response{Text: "Состояние устройства " + device + " неизвестно"}, nil
		case err != nil:
			return handler.Response{}, handler.Unavailable(h.Name(), "Не удалось узнать состояние "+device, err)
		}
		return handler.Response{Text: device + " " + stateWord(on)}, nil
	}
}

// resolve maps the spoken name to a known device. Without any known devices
// the name passes through unchanged for the backend to judge.
func (h *Handler) resolve(spoken string) (string, bool) {
	known := slices.Clone(h.devices)
	if l, ok := h.ctrl.(Lister); ok {
		known = append(known, l.Devices()...)
	}
	if len(known) == 0 {
		return spoken, true
	}
	if slices.Contains(known, spoken) {
		return spoken, true
	}
	best, _, ok := h.matcher.Match(spoken, known)
	return best, ok
}

func notFound(name, device string) error {
	return handler.NotFound(name, "Устройство "+device+" не найдено")
}

func stateWord(on bool) string {
	if on {
		return "включен"
	}
	return "выключен"
}
