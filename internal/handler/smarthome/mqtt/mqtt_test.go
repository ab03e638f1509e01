package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/pivoice/internal/handler/smarthome"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload string
}

type fakeClient struct {
	mu         sync.Mutex
	published  []published
	handler    paho.MessageHandler
	subscribed string
	publishTok paho.Token
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, payload: payload.(string)})
	if f.publishTok != nil {
		return f.publishTok
	}
	return doneToken(nil)
}

func (f *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = topic
	f.handler = cb
	return doneToken(nil)
}

type fakeMessage struct {
	topic   string
	payload string
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return true }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m fakeMessage) Ack()              {}

func TestSet_PublishesCommand(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	c := New(fc, Config{})
	ctx := context.Background()

	if err := c.Set(ctx, "чайник", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, "чайник", false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	want := []published{
		{topic: "home/devices/чайник/set", payload: "ON"},
		{topic: "home/devices/чайник/set", payload: "OFF"},
	}
	if len(fc.published) != len(want) {
		t.Fatalf("published = %v, want %v", fc.published, want)
	}
	for i := range want {
		if fc.published[i] != want[i] {
			t.Errorf("published[%d] = %v, want %v", i, fc.published[i], want[i])
		}
	}
	if on, err := c.State(ctx, "чайник"); err != nil || on {
		t.Errorf("State = (%v, %v), want (false, nil)", on, err)
	}
}

func TestSet_Errors(t *testing.T) {
	t.Parallel()

	t.Run("broker error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("not authorized")
		c := New(&fakeClient{publishTok: doneToken(boom)}, Config{})
		if err := c.Set(context.Background(), "свет", true); !errors.Is(err, boom) {
			t.Errorf("Set err = %v, want %v", err, boom)
		}
		if _, err := c.State(context.Background(), "свет"); !errors.Is(err, smarthome.ErrStateUnknown) {
			t.Errorf("State after failed Set err = %v, want ErrStateUnknown", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		pending := &fakeToken{done: make(chan struct{})}
		c := New(&fakeClient{publishTok: pending}, Config{Timeout: 20 * time.Millisecond})
		if err := c.Set(context.Background(), "свет", true); err == nil {
			t.Error("Set error = nil, want timeout")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		pending := &fakeToken{done: make(chan struct{})}
		c := New(&fakeClient{publishTok: pending}, Config{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := c.Set(ctx, "свет", true); !errors.Is(err, context.Canceled) {
			t.Errorf("Set err = %v, want context.Canceled", err)
		}
	})
}

func TestSubscribe_TracksState(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	c := New(fc, Config{Prefix: "dom/"})
	if err := c.Subscribe(); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if fc.subscribed != "dom/+/state" {
		t.Errorf("subscribed = %q, want dom/+/state", fc.subscribed)
	}

	fc.handler(nil, fakeMessage{topic: "dom/лампа/state", payload: "on"})
	fc.handler(nil, fakeMessage{topic: "dom/вентилятор/state", payload: "0"})
	fc.handler(nil, fakeMessage{topic: "dom/обогреватель/state", payload: "maybe"})
	fc.handler(nil, fakeMessage{topic: "other/лампа/state", payload: "OFF"})

	ctx := context.Background()
	tests := []struct {
		device  string
		want    bool
		unknown bool
	}{
		{device: "лампа", want: true},
		{device: "вентилятор", want: false},
		{device: "обогреватель", unknown: true},
	}
	for _, tt := range tests {
		on, err := c.State(ctx, tt.device)
		if tt.unknown {
			if !errors.Is(err, smarthome.ErrStateUnknown) {
				t.Errorf("State(%q) err = %v, want ErrStateUnknown", tt.device, err)
			}
			continue
		}
		if err != nil || on != tt.want {
			t.Errorf("State(%q) = (%v, %v), want (%v, nil)", tt.device, on, err, tt.want)
		}
	}
}

func TestConnect_NoBroker(t *testing.T) {
	t.Parallel()

	if _, err := Connect(Config{}); err == nil {
		t.Error("Connect(empty broker) error = nil, want error")
	}
}
