package wake

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Indication is a visible assistant state.
type Indication int

const (
	// IndicateOff: the assistant is stopped.
	IndicateOff Indication = iota

	// IndicateWaiting: idle, listening for the wake phrase. One slow blink.
	IndicateWaiting

	// IndicateListening: capturing a command. Three quick blinks, then on.
	IndicateListening

	// IndicateProcessing: recognising and answering. Solid on.
	IndicateProcessing

	// IndicateSpeaking: playing a response. Solid on.
	IndicateSpeaking
)

// String returns the indication name.
func (i Indication) String() string {
	switch i {
	case IndicateOff:
		return "off"
	case IndicateWaiting:
		return "waiting"
	case IndicateListening:
		return "listening"
	case IndicateProcessing:
		return "processing"
	case IndicateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Indicator displays assistant state.
type Indicator interface {
	Indicate(Indication)
}

// NopIndicator discards every indication.
type NopIndicator struct{}

// Indicate implements Indicator.
func (NopIndicator) Indicate(Indication) {}

type blink struct {
	interval time.Duration
	count    int
	after    gpio.Level
}

var patterns = map[Indication]blink{
	IndicateWaiting:   {interval: 500 * time.Millisecond, count: 1, after: gpio.Low},
	IndicateListening: {interval: 100 * time.Millisecond, count: 3, after: gpio.High},
}

// LED drives a status LED on a GPIO output. Blink patterns run on their own
// goroutine and are cancelled by the next indication.
type LED struct {
	pin gpio.PinOut

	mu     sync.Mutex
	cancel chan struct{}
	done   chan struct{}
}

var _ Indicator = (*LED)(nil)

// NewLED wraps an already-resolved pin and switches it off.
func NewLED(pin gpio.PinOut) *LED {
	l := &LED{pin: pin}
	l.set(gpio.Low)
	return l
}

// OpenLED initialises the host drivers and resolves the pin by name.
func OpenLED(name string) (*LED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("wake: init gpio host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("wake: gpio pin %q not found", name)
	}
	return NewLED(pin), nil
}

// Indicate implements Indicator.
func (l *LED) Indicate(ind Indication) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()
	p, ok := patterns[ind]
	if !ok {
		if ind == IndicateOff {
			l.set(gpio.Low)
		} else {
			l.set(gpio.High)
		}
		return
	}

	cancel := make(chan struct{})
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	go l.blink(p, cancel, done)
}

// Close stops any running pattern and switches the LED off.
func (l *LED) Close() error {
	l.Indicate(IndicateOff)
	return nil
}

func (l *LED) stopLocked() {
	if l.cancel == nil {
		return
	}
	close(l.cancel)
	<-l.done
	l.cancel, l.done = nil, nil
}

func (l *LED) blink(p blink, cancel, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for range p.count {
		for _, lvl := range []gpio.Level{gpio.High, gpio.Low} {
			l.set(lvl)
			select {
			case <-cancel:
				return
			case <-t.C:
			}
		}
	}
	l.set(p.after)
}

func (l *LED) set(lvl gpio.Level) {
	if err := l.pin.Out(lvl); err != nil {
		slog.Debug("wake: led write failed", "pin", l.pin.String(), "err", err)
	}
}
