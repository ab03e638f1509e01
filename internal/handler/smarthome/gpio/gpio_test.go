package gpio_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/MrWong99/pivoice/internal/handler/smarthome"
	"github.com/MrWong99/pivoice/internal/handler/smarthome/gpio"
)

func TestController(t *testing.T) {
	t.Parallel()

	fan := &gpiotest.Pin{N: "GPIO22", Num: 22, L: pgpio.High}
	lamp := &gpiotest.Pin{N: "GPIO23", Num: 23}
	c, err := gpio.New(map[string]pgpio.PinOut{"Вентилятор": fan, "лампа": lamp})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if fan.Read() != pgpio.Low {
		t.Error("New did not drive pins low")
	}
	if got := c.Devices(); !slices.Equal(got, []string{"вентилятор", "лампа"}) {
		t.Errorf("Devices = %v", got)
	}

	ctx := context.Background()
	if err := c.Set(ctx, "лампа", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if lamp.Read() != pgpio.High {
		t.Error("lamp pin low after Set(true)")
	}
	if on, err := c.State(ctx, "лампа"); err != nil || !on {
		t.Errorf("State = (%v, %v), want (true, nil)", on, err)
	}

	if err := c.Set(ctx, "телевизор", true); !errors.Is(err, smarthome.ErrUnknownDevice) {
		t.Errorf("Set(unknown) err = %v, want ErrUnknownDevice", err)
	}
	if _, err := c.State(ctx, "телевизор"); !errors.Is(err, smarthome.ErrUnknownDevice) {
		t.Errorf("State(unknown) err = %v, want ErrUnknownDevice", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if lamp.Read() != pgpio.Low {
		t.Error("Close did not release lamp")
	}
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := gpio.New(map[string]pgpio.PinOut{" ": &gpiotest.Pin{}}); err == nil {
		t.Error("New(blank name) error = nil, want error")
	}
}
