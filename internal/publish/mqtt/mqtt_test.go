package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	paho.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

// fakeClient implements the subset of paho.Client used here.
type fakeClient struct {
	paho.Client

	mu           sync.Mutex
	published    [][]byte
	topics       []string
	token        paho.Token
	handler      paho.MessageHandler
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.published = append(c.published, payload.([]byte))
	return c.token
}

func (c *fakeClient) Subscribe(_ string, _ byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	c.handler = cb
	c.mu.Unlock()
	return completed(nil)
}

func (c *fakeClient) Unsubscribe(...string) paho.Token { return completed(nil) }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestPublish(t *testing.T) {
	fc := &fakeClient{token: completed(nil)}
	c := New(fc, "uvtwin/telemetry")

	require.NoError(t, c.Publish(context.Background(), "BMW_i4", []byte(`{"tick":1}`)))
	assert.Equal(t, []string{"uvtwin/telemetry"}, fc.topics)
	assert.Equal(t, `{"tick":1}`, string(fc.published[0]))

	require.NoError(t, c.Close())
	assert.True(t, fc.disconnected)
}

func TestPublish_Error(t *testing.T) {
	boom := errors.New("not connected")
	c := New(&fakeClient{token: completed(boom)}, "t")
	assert.ErrorIs(t, c.Publish(context.Background(), "", nil), boom)
}

func TestPublish_Timeout(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	c := New(&fakeClient{token: pending}, "t")
	c.timeout = 10 * time.Millisecond

	assert.ErrorIs(t, c.Publish(context.Background(), "", nil), ErrTimeout)
}

func TestSubscribe_DeliversUntilCancel(t *testing.T) {
	fc := &fakeClient{}
	c := New(fc, "uvtwin/telemetry")

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Subscribe(ctx, func(p []byte) { got <- p })
	}()

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.handler != nil
	}, time.Second, 5*time.Millisecond)

	fc.mu.Lock()
	h := fc.handler
	fc.mu.Unlock()
	h(fc, fakeMessage{payload: []byte("hello")})
	assert.Equal(t, "hello", string(<-got))

	cancel()
	assert.NoError(t, <-errCh)
}
