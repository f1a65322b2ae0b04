// Package websocket streams live telemetry events to a WebSocket server.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/model"
)

// Message types of the streaming protocol.
const (
	TypeStartSession = "start_session"
	TypeTelemetry    = "telemetry"
	TypeEndSession   = "end_session"
)

// ErrQueueFull is returned when the write loop cannot keep up.
var ErrQueueFull = errors.New("websocket send queue full")

// Envelope wraps every message sent over the socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement of a session message.
type AckMessage struct {
	Type string `json:"type"`
	For  string `json:"for"`
}

// SessionInfo announces a run to the server.
type SessionInfo struct {
	Schema  string    `json:"schema"`
	Model   string    `json:"model"`
	Session string    `json:"session"`
	Seed    int64     `json:"seed"`
	Start   time.Time `json:"start"`
}

// SessionEnd closes a run.
type SessionEnd struct {
	Session string `json:"session"`
	Reason  string `json:"reason,omitempty"`
}

// Client is a publisher over one WebSocket connection.
type Client struct {
	link       *link
	session    string
	ackTimeout time.Duration
	reason     string
}

// Dial connects to cfg.URL and announces the session, waiting for the
// server's ack.
func Dial(cfg config.WebsocketConfig, info SessionInfo, logger *slog.Logger) (*Client, error) {
	c := &Client{
		link:       newLink(logger.With("publisher", "websocket")),
		session:    info.Session,
		ackTimeout: cfg.AckTimeout,
	}
	if c.ackTimeout <= 0 {
		c.ackTimeout = 10 * time.Second
	}
	if info.Schema == "" {
		info.Schema = model.SchemaVersion
	}

	hello, err := marshalEnvelope(TypeStartSession, info)
	if err != nil {
		return nil, err
	}
	c.link.setHello(hello)

	if err := c.link.open(cfg.URL, cfg.Secret); err != nil {
		return nil, err
	}
	if err := c.link.request(hello, TypeStartSession, c.ackTimeout); err != nil {
		c.link.close()
		return nil, err
	}
	return c, nil
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return wrap(msgType, raw)
}

func wrap(msgType string, raw json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Publish queues an already encoded event. The key is ignored.
func (c *Client) Publish(_ context.Context, _ string, payload []byte) error {
	data, err := wrap(TypeTelemetry, payload)
	if err != nil {
		return err
	}
	if !c.link.enqueue(data) {
		return ErrQueueFull
	}
	return nil
}

// SetStopReason sets the reason sent with the end of the session.
func (c *Client) SetStopReason(reason string) {
	c.reason = reason
}

// Close ends the session, waiting for the server's ack, and disconnects.
func (c *Client) Close() error {
	data, err := marshalEnvelope(TypeEndSession, SessionEnd{Session: c.session, Reason: c.reason})
	if err == nil {
		err = c.link.request(data, TypeEndSession, c.ackTimeout)
	}
	c.link.close()
	return err
}
