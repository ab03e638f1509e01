package smarthome_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/handler/smarthome"
	"github.com/MrWong99/pivoice/internal/handler/smarthome/gpio"
	"github.com/MrWong99/pivoice/internal/intent"
)

func newGPIO(t *testing.T) (*smarthome.Handler, *gpiotest.Pin) {
	t.Helper()
	light := &gpiotest.Pin{N: "GPIO17", Num: 17}
	ctrl, err := gpio.New(map[string]pgpio.PinOut{
		"свет в комнате": light,
		"чайник":         &gpiotest.Pin{N: "GPIO27", Num: 27},
	})
	if err != nil {
		t.Fatalf("gpio.New: %v", err)
	}
	return smarthome.New(ctrl), light
}

func handle(h *smarthome.Handler, device string, state intent.DeviceState) (handler.Response, error) {
	return h.Handle(context.Background(), intent.Intent{Tag: intent.TagSmartHome, Device: device, DeviceState: state}, handler.DialogueContext{})
}

func TestHandle_SwitchOn(t *testing.T) {
	t.Parallel()

	h, light := newGPIO(t)
	resp, err := handle(h, "свет в комнате", intent.StateOn)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Text != "свет в комнате включен" {
		t.Errorf("Text = %q, want %q", resp.Text, "свет в комнате включен")
	}
	if resp.DeviceCommand == nil || resp.DeviceCommand.Device != "свет в комнате" || resp.DeviceCommand.State != intent.StateOn {
		t.Errorf("DeviceCommand = %+v", resp.DeviceCommand)
	}
	if light.Read() != pgpio.High {
		t.Error("light pin is low after switching on")
	}
}

func TestHandle_FuzzyDeviceName(t *testing.T) {
	t.Parallel()

	h, light := newGPIO(t)
	handle(h, "свет в комнате", intent.StateOn)

	resp, err := handle(h, "свет", intent.StateOff)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Text != "свет в комнате выключен" {
		t.Errorf("Text = %q", resp.Text)
	}
	if light.Read() != pgpio.Low {
		t.Error("light pin is high after switching off")
	}
}

func TestHandle_Status(t *testing.T) {
	t.Parallel()

	h, _ := newGPIO(t)
	resp, err := handle(h, "чайник", intent.StateNone)
	if err != nil || resp.Text != "чайник выключен" {
		t.Errorf("Handle = (%q, %v), want чайник выключен", resp.Text, err)
	}
	if resp.DeviceCommand != nil {
		t.Errorf("status query produced DeviceCommand %+v", resp.DeviceCommand)
	}
}

func TestHandle_UnknownDevice(t *testing.T) {
	t.Parallel()

	h, _ := newGPIO(t)
	_, err := handle(h, "телевизор", intent.StateOn)
	var he *handler.Error
	if !errors.As(err, &he) || he.Category != handler.CategoryNotFound {
		t.Fatalf("err = %v, want not found", err)
	}
	if he.Reason != "Устройство телевизор не найдено" {
		t.Errorf("Reason = %q", he.Reason)
	}
}

func TestHandle_NoDevice(t *testing.T) {
	t.Parallel()

	h, _ := newGPIO(t)
	_, err := handle(h, "", intent.StateOn)
	if handler.Reason(err) != smarthome.ReplyNoDevice {
		t.Errorf("Reason = %q, want %q", handler.Reason(err), smarthome.ReplyNoDevice)
	}
}

// fakeController accepts any device name.
type fakeController struct {
	setErr   error
	stateErr error
	set      map[string]bool
}

func (f *fakeController) Set(_ context.Context, device string, on bool) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.set == nil {
		f.set = make(map[string]bool)
	}
	f.set[device] = on
	return nil
}

func (f *fakeController) State(_ context.Context, device string) (bool, error) {
	if f.stateErr != nil {
		return false, f.stateErr
	}
	return f.set[device], nil
}

func TestHandle_PassThroughController(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	h := smarthome.New(ctrl)
	if _, err := handle(h, "гирлянда", intent.StateOn); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !ctrl.set["гирлянда"] {
		t.Errorf("set = %v, want гирлянда on", ctrl.set)
	}
}

func TestHandle_WithDevices(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	h := smarthome.New(ctrl, smarthome.WithDevices("кондиционер"))
	if _, err := handle(h, "кондиционер", intent.StateOn); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := handle(h, "пылесос", intent.StateOn); err == nil {
		t.Error("Handle(unlisted device) error = nil, want not found")
	}
}

func TestHandle_BackendErrors(t *testing.T) {
	t.Parallel()

	t.Run("set fails", func(t *testing.T) {
		t.Parallel()
		h := smarthome.New(&fakeController{setErr: errors.New("broker down")})
		_, err := handle(h, "чайник", intent.StateOn)
		if !errors.Is(err, handler.ErrUnavailable) {
			t.Fatalf("err = %v, want ErrUnavailable", err)
		}
		if got := handler.Reason(err); got != "Ошибка при включении чайник" {
			t.Errorf("Reason = %q", got)
		}
	})

	t.Run("unknown from backend", func(t *testing.T) {
		t.Parallel()
		h := smarthome.New(&fakeController{setErr: fmt.Errorf("x: %w", smarthome.ErrUnknownDevice)})
		_, err := handle(h, "чайник", intent.StateOff)
		if got := handler.Reason(err); got != "Устройство чайник не найдено" {
			t.Errorf("Reason = %q", got)
		}
	})

	t.Run("state unknown", func(t *testing.T) {
		t.Parallel()
		h := smarthome.New(&fakeController{stateErr: smarthome.ErrStateUnknown})
		resp, err := handle(h, "чайник", intent.StateNone)
		if err != nil || resp.Text != "Состояние устройства чайник неизвестно" {
			t.Errorf("Handle = (%q, %v)", resp.Text, err)
		}
	})
}
