package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	queueSize      = 1024
	ackBuffer      = 16
	redialAttempts = 10
	redialMaxWait  = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// link keeps one session stream alive. A supervisor goroutine owns the
// socket: it writes queued frames, and on failure redials and replays hello.
type link struct {
	target string
	dialer *ws.Dialer
	out    chan []byte
	acks   chan AckMessage
	stop   chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	hello []byte

	logger *slog.Logger
}

func newLink(logger *slog.Logger) *link {
	return &link{
		dialer: &ws.Dialer{HandshakeTimeout: writeTimeout},
		out:    make(chan []byte, queueSize),
		acks:   make(chan AckMessage, ackBuffer),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// targetURL appends the secret query parameter when one is set.
func targetURL(rawURL, secret string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// open dials once and starts the supervisor. A failed first dial is returned
// to the caller; later failures are retried in the background.
func (l *link) open(rawURL, secret string) error {
	target, err := targetURL(rawURL, secret)
	if err != nil {
		return err
	}
	l.target = target

	conn, _, err := l.dialer.Dial(l.target, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	l.wg.Add(1)
	go l.supervise(conn)
	return nil
}

func (l *link) setHello(data []byte) {
	l.mu.Lock()
	l.hello = data
	l.mu.Unlock()
}

func (l *link) stopping() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *link) supervise(conn *ws.Conn) {
	defer l.wg.Done()
	for conn != nil {
		err := l.serve(conn)
		if err == nil || l.stopping() {
			return
		}
		l.logger.Warn("WebSocket connection lost", "error", err)
		conn = l.redial()
	}
}

// serve pumps queued frames into conn until stop or a socket error.
func (l *link) serve(conn *ws.Conn) error {
	readErr := make(chan error, 1)
	go func() { readErr <- l.readAcks(conn) }()

	for {
		select {
		case <-l.stop:
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return conn.Close()
		case err := <-readErr:
			_ = conn.Close()
			return err
		case frame := <-l.out:
			if err := writeFrame(conn, frame); err != nil {
				_ = conn.Close()
				return err
			}
		}
	}
}

func writeFrame(conn *ws.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, frame)
}

// readAcks forwards server acks until the socket fails. Other frames are
// ignored.
func (l *link) readAcks(conn *ws.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ack AckMessage
		if json.Unmarshal(msg, &ack) != nil || ack.Type != "ack" {
			l.logger.Debug("Ignoring server frame", "raw", string(msg))
			continue
		}
		select {
		case l.acks <- ack:
		default:
			l.logger.Debug("Dropping ack, nobody waiting", "for", ack.For)
		}
	}
}

// redial retries with doubling waits and replays the session start on the
// new socket. It returns nil when stopped or out of attempts.
func (l *link) redial() *ws.Conn {
	wait := time.Second
	for attempt := 1; attempt <= redialAttempts; attempt++ {
		select {
		case <-l.stop:
			return nil
		case <-time.After(wait):
		}
		wait = min(2*wait, redialMaxWait)

		conn, _, err := l.dialer.Dial(l.target, nil)
		if err != nil {
			l.logger.Warn("WebSocket redial failed", "attempt", attempt, "error", err)
			continue
		}

		l.mu.Lock()
		hello := l.hello
		l.mu.Unlock()
		if hello != nil {
			if err := writeFrame(conn, hello); err != nil {
				l.logger.Warn("Session replay failed", "attempt", attempt, "error", err)
				_ = conn.Close()
				continue
			}
		}
		l.logger.Info("WebSocket reconnected", "attempt", attempt)
		return conn
	}
	l.logger.Error("Giving up on WebSocket", "attempts", redialAttempts)
	return nil
}

// enqueue reports false when the queue is full.
func (l *link) enqueue(frame []byte) bool {
	select {
	case l.out <- frame:
		return true
	default:
		return false
	}
}

// request enqueues frame and waits for the server to ack msgType.
func (l *link) request(frame []byte, msgType string, timeout time.Duration) error {
	if !l.enqueue(frame) {
		return ErrQueueFull
	}
	deadline := time.After(timeout)
	for {
		select {
		case ack := <-l.acks:
			if ack.For == msgType {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("no ack for %s within %s", msgType, timeout)
		case <-l.stop:
			return fmt.Errorf("link closed before ack for %s", msgType)
		}
	}
}

// close stops the supervisor and waits for the socket to shut down.
func (l *link) close() {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
}
