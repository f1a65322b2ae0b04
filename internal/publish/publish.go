// Package publish streams live telemetry events to message brokers.
// Publishing is best effort: failures are logged and never stop the
// simulation.
package publish

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/uvtwin/telemetry-sim/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Publisher sends one payload to a broker.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker opens after MaxFailures consecutive failures and lets a single
// trial call through once ResetTimeout has passed.
type Breaker struct {
	MaxFailures  int
	ResetTimeout time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	now      func() time.Time
}

func NewBreaker(maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{MaxFailures: maxFailures, ResetTimeout: resetTimeout, now: time.Now}
}

// Allow reports whether a call may proceed, moving an expired open breaker
// to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.ResetTimeout {
			return false
		}
		b.state = HalfOpen
		return true
	case HalfOpen:
		// one trial call at a time
		return false
	default:
		return true
	}
}

// Record updates the breaker with the outcome of an allowed call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.state = Closed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == HalfOpen || b.failures >= b.MaxFailures {
		b.state = Open
		b.openedAt = b.now()
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BestEffort adapts a Publisher to sink.Sink. Ticks are encoded as
// model.Event; laps are not published.
type BestEffort struct {
	name    string
	pub     Publisher
	breaker *Breaker
	logger  *slog.Logger
	model   string
	session string

	published metric.Int64Counter
	failed    metric.Int64Counter
	attrs     metric.MeasurementOption
}

// NewBestEffort wraps pub. The breaker opens after 5 consecutive failures
// and retries after 10 seconds.
func NewBestEffort(name string, pub Publisher, vehicleModel, session string, logger *slog.Logger) (*BestEffort, error) {
	published, err := meter().Int64Counter("publish.messages.sent",
		metric.WithDescription("Live events handed to the broker"))
	if err != nil {
		return nil, err
	}
	failed, err := meter().Int64Counter("publish.messages.failed",
		metric.WithDescription("Live events that failed or were rejected by the breaker"))
	if err != nil {
		return nil, err
	}
	return &BestEffort{
		name:      name,
		pub:       pub,
		breaker:   NewBreaker(5, 10*time.Second),
		logger:    logger.With("publisher", name),
		model:     vehicleModel,
		session:   session,
		published: published,
		failed:    failed,
		attrs:     metric.WithAttributes(attribute.String("publisher", name)),
	}, nil
}

func (p *BestEffort) Breaker() *Breaker {
	return p.breaker
}

// Send publishes rec and reports the error without retrying.
func (p *BestEffort) Send(ctx context.Context, rec model.TickRecord) error {
	payload, err := model.NewEvent(p.model, p.session, rec).Marshal()
	if err != nil {
		return err
	}
	if !p.breaker.Allow() {
		p.failed.Add(ctx, 1, p.attrs)
		return ErrCircuitOpen
	}

	// keyed by vehicle so a partitioned broker keeps ticks in order
	err = p.pub.Publish(ctx, p.model, payload)
	before := p.breaker.State()
	p.breaker.Record(err)
	if err != nil {
		p.failed.Add(ctx, 1, p.attrs)
		if p.breaker.State() == Open && before != Open {
			p.logger.Warn("publisher circuit opened", "error", err)
		}
		return err
	}
	p.published.Add(ctx, 1, p.attrs)
	return nil
}

// WriteTick never fails; publish errors are logged at debug level.
func (p *BestEffort) WriteTick(ctx context.Context, rec model.TickRecord) error {
	if err := p.Send(ctx, rec); err != nil && !errors.Is(err, ErrCircuitOpen) {
		p.logger.Debug("publish failed", "tick", rec.Tick, "error", err)
	}
	return nil
}

func (p *BestEffort) WriteLap(context.Context, model.LapRecord) error {
	return nil
}

func (p *BestEffort) Close() error {
	return p.pub.Close()
}
