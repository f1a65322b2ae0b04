package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/uvtwin/telemetry-sim/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrDropped wraps the last error of a record that exhausted its retries.
var ErrDropped = errors.New("record dropped after retries")

const maxBackoff = 2 * time.Second

// Retry retries failed writes with exponential backoff. After the last attempt
// the record is dropped with a warning.
type Retry struct {
	name     string
	next     Sink
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error

	dropped atomic.Int64

	// OTEL metrics
	written  metric.Int64Counter
	retried  metric.Int64Counter
	droppedC metric.Int64Counter
	attr     metric.MeasurementOption
}

// WithRetry wraps next. attempts below 1 are treated as 1.
// Uses the global OTel meter for metrics (no-op if not configured).
func WithRetry(name string, next Sink, attempts int, backoff time.Duration, logger *slog.Logger) (*Retry, error) {
	if attempts < 1 {
		attempts = 1
	}
	r := &Retry{
		name:     name,
		next:     next,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger.With("sink", name),
		sleep:    sleepCtx,
		attr:     metric.WithAttributes(attribute.String("sink", name)),
	}

	m := meter()
	var err error
	r.written, err = m.Int64Counter(
		"sink.records.written",
		metric.WithDescription("Records accepted by a sink"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating written counter: %w", err)
	}
	r.retried, err = m.Int64Counter(
		"sink.records.retried",
		metric.WithDescription("Write attempts that were retried"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retried counter: %w", err)
	}
	r.droppedC, err = m.Int64Counter(
		"sink.records.dropped",
		metric.WithDescription("Records dropped after exhausting retries"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	return r, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dropped returns how many records were given up on.
func (r *Retry) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Retry) do(ctx context.Context, kind string, write func() error) error {
	delay := r.backoff
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = write(); err == nil {
			r.written.Add(ctx, 1, r.attr)
			return nil
		}
		if attempt == r.attempts {
			break
		}
		r.retried.Add(ctx, 1, r.attr)
		r.logger.Debug("write failed, retrying", "kind", kind, "attempt", attempt, "error", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			break
		}
		delay = min(delay*2, maxBackoff)
	}

	r.dropped.Add(1)
	r.droppedC.Add(ctx, 1, r.attr)
	r.logger.Warn("dropping record after retries", "kind", kind, "attempts", r.attempts, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrDropped, r.name, err)
}

// WriteTick implements Sink.
func (r *Retry) WriteTick(ctx context.Context, rec model.TickRecord) error {
	return r.do(ctx, "tick", func() error { return r.next.WriteTick(ctx, rec) })
}

// WriteLap implements Sink.
func (r *Retry) WriteLap(ctx context.Context, rec model.LapRecord) error {
	return r.do(ctx, "lap", func() error { return r.next.WriteLap(ctx, rec) })
}

// Close implements Sink.
func (r *Retry) Close() error {
	return r.next.Close()
}
