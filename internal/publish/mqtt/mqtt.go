// Package mqtt publishes and subscribes to live telemetry over MQTT.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/uvtwin/telemetry-sim/internal/config"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// Client wraps a paho client bound to one topic.
type Client struct {
	client  paho.Client
	topic   string
	timeout time.Duration
}

// New wraps an already connected paho client.
func New(client paho.Client, topic string) *Client {
	return &Client{client: client, topic: topic, timeout: publishTimeout}
}

// Dial connects to the broker in cfg. Auto-reconnect is enabled so a broker
// restart does not require restarting the simulator.
func Dial(cfg config.MQTTConfig) (*Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Endpoint()).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect %s: %w", cfg.Endpoint(), ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Endpoint(), err)
	}
	return New(client, cfg.Topic), nil
}

func (c *Client) Topic() string {
	return c.topic
}

// Publish sends payload with QoS 0. The key is ignored; MQTT has no
// partitioning.
func (c *Client) Publish(ctx context.Context, _ string, payload []byte) error {
	token := c.client.Publish(c.topic, 0, false, payload)
	return c.wait(ctx, token)
}

// Subscribe calls handler for every message on the topic until ctx ends.
func (c *Client) Subscribe(ctx context.Context, handler func(payload []byte)) error {
	token := c.client.Subscribe(c.topic, 0, func(_ paho.Client, msg paho.Message) {
		handler(msg.Payload())
	})
	if err := c.wait(ctx, token); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}

	<-ctx.Done()
	c.client.Unsubscribe(c.topic).WaitTimeout(c.timeout)
	return nil
}

func (c *Client) wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	c.client.Disconnect(250)
	return nil
}
