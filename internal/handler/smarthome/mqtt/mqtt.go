// Package mqtt controls smart-home devices through an MQTT broker. Commands
// go to {prefix}/{device}/set with payload ON or OFF; retained or live
// messages on {prefix}/{device}/state keep the known device state current.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/pivoice/internal/handler/smarthome"
)

var _ smarthome.Controller = (*Controller)(nil)

const (
	DefaultPrefix   = "home/devices"
	DefaultClientID = "pivoice"
	defaultTimeout  = 5 * time.Second
)

// Client is the subset of [paho.Client] the controller uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Config describes the broker connection.
type Config struct {
	Broker   string // tcp://host:1883
	ClientID string
	Username string
	Password string
	Prefix   string
	QoS      byte
	Timeout  time.Duration
}

// Controller is a [smarthome.Controller] publishing to MQTT.
type Controller struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration

	mu    sync.RWMutex
	state map[string]bool

	disconnect func()
}

// Connect dials the broker and subscribes to state topics.
func Connect(cfg Config) (*Controller, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker must not be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt: connection lost", "broker", cfg.Broker, "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	var c *Controller
	// Resubscribe after every (re)connect; paho drops subscriptions with the
	// session.
	opts.SetOnConnectHandler(func(pc paho.Client) {
		slog.Info("mqtt: connected", "broker", cfg.Broker)
		if c != nil {
			if err := c.subscribe(); err != nil {
				slog.Warn("mqtt: subscribe state topics", "err", err)
			}
		}
	})

	client := paho.NewClient(opts)
	c = New(client, cfg)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt: connect %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}
	c.disconnect = func() { client.Disconnect(250) }
	return c, nil
}

// New wraps an already-connected client. Call [Controller.Subscribe]
// to track device state.
func New(client Client, cfg Config) *Controller {
	c := &Controller{
		client:  client,
		prefix:  strings.TrimRight(cfg.Prefix, "/"),
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		state:   make(map[string]bool),
	}
	if c.prefix == "" {
		c.prefix = DefaultPrefix
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// Subscribe starts tracking {prefix}/+/state.
func (c *Controller) Subscribe() error {
	return c.subscribe()
}

func (c *Controller) subscribe() error {
	tok := c.client.Subscribe(c.prefix+"/+/state", c.qos, c.onState)
	return c.wait(context.Background(), tok, "subscribe")
}

func (c *Controller) onState(_ paho.Client, msg paho.Message) {
	rest, ok := strings.CutPrefix(msg.Topic(), c.prefix+"/")
	if !ok {
		return
	}
	device, ok := strings.CutSuffix(rest, "/state")
	if !ok || device == "" {
		return
	}
	var on bool
	switch strings.ToUpper(strings.TrimSpace(string(msg.Payload()))) {
	case "ON", "1", "TRUE":
		on = true
	case "OFF", "0", "FALSE":
	default:
		slog.Debug("mqtt: ignoring state payload", "topic", msg.Topic(), "payload", string(msg.Payload()))
		return
	}
	c.mu.Lock()
	c.state[device] = on
	c.mu.Unlock()
}

// Set implements smarthome.Controller.
func (c *Controller) Set(ctx context.Context, device string, on bool) error {
	payload := "OFF"
	if on {
		payload = "ON"
	}
	topic := c.prefix + "/" + device + "/set"
	if err := c.wait(ctx, c.client.Publish(topic, c.qos, false, payload), "publish "+topic); err != nil {
		return err
	}
	c.mu.Lock()
	c.state[device] = on
	c.mu.Unlock()
	slog.Info("mqtt: command published", "topic", topic, "payload", payload)
	return nil
}

// State implements smarthome.Controller. Devices never seen on a state topic
// nor switched by this process report [smarthome.ErrStateUnknown].
func (c *Controller) State(_ context.Context, device string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	on, ok := c.state[device]
	if !ok {
		return false, fmt.Errorf("mqtt: %q: %w", device, smarthome.ErrStateUnknown)
	}
	return on, nil
}

// Close disconnects a client opened by [Connect].
func (c *Controller) Close() error {
	if c.disconnect != nil {
		c.disconnect()
	}
	return nil
}

func (c *Controller) wait(ctx context.Context, tok paho.Token, op string) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt: %s: %w", op, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("mqtt: %s: timed out after %s", op, c.timeout)
	case <-ctx.Done():
		return fmt.Errorf("mqtt: %s: %w", op, ctx.Err())
	}
}
