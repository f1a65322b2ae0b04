package sink

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uvtwin/telemetry-sim/internal/model"
)

// flakySink fails the first failN writes, then succeeds.
type flakySink struct {
	mu     sync.Mutex
	failN  int
	calls  int
	ticks  []model.TickRecord
	laps   []model.LapRecord
	closed bool
}

func (f *flakySink) fail() error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("backend unavailable")
	}
	return nil
}

func (f *flakySink) WriteTick(_ context.Context, rec model.TickRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.ticks = append(f.ticks, rec)
	return nil
}

func (f *flakySink) WriteLap(_ context.Context, rec model.LapRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.laps = append(f.laps, rec)
	return nil
}

func (f *flakySink) Close() error {
	f.closed = true
	return nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var buf bytes.Buffer
	inner := &flakySink{failN: 2}
	r, err := WithRetry("csv", inner, 3, time.Millisecond, newTestLogger(&buf))
	require.NoError(t, err)
	r.sleep = noSleep

	require.NoError(t, r.WriteTick(context.Background(), model.TickRecord{Tick: 1}))
	assert.Len(t, inner.ticks, 1)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, int64(0), r.Dropped())
	assert.Contains(t, buf.String(), "retrying")
}

func TestRetry_DropsAfterLastAttempt(t *testing.T) {
	var buf bytes.Buffer
	inner := &flakySink{failN: 100}
	r, err := WithRetry("db", inner, 3, time.Millisecond, newTestLogger(&buf))
	require.NoError(t, err)
	r.sleep = noSleep

	err = r.WriteLap(context.Background(), model.LapRecord{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDropped)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, int64(1), r.Dropped())
	assert.Contains(t, buf.String(), "dropping record after retries")
	assert.Contains(t, buf.String(), "sink=db")
}

func TestRetry_BackoffDoubles(t *testing.T) {
	inner := &flakySink{failN: 100}
	r, err := WithRetry("db", inner, 4, 10*time.Millisecond, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	var delays []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_ = r.WriteTick(context.Background(), model.TickRecord{})
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, delays)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	inner := &flakySink{failN: 100}
	r, err := WithRetry("db", inner, 5, time.Hour, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = r.WriteTick(ctx, model.TickRecord{})
	assert.ErrorIs(t, err, ErrDropped)
	assert.Equal(t, 1, inner.calls)
}

func TestFanout_IsolatesFailures(t *testing.T) {
	var buf bytes.Buffer
	good := &flakySink{}
	bad := &flakySink{failN: 100}
	f := NewFanout(newTestLogger(&buf), Named{"bad", bad}, Named{"nil", nil}, Named{"good", good})

	assert.Equal(t, []string{"bad", "good"}, f.Names())

	err := f.WriteTick(context.Background(), model.TickRecord{Tick: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad:")
	require.Len(t, good.ticks, 1)
	assert.Equal(t, 5, good.ticks[0].Tick)

	require.NoError(t, f.Close())
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}

func TestFanout_Add(t *testing.T) {
	f := NewFanout(slog.New(slog.DiscardHandler))
	s := &flakySink{}
	f.Add("mem", s)
	f.Add("none", nil)

	require.NoError(t, f.WriteLap(context.Background(), model.LapRecord{}))
	assert.Len(t, s.laps, 1)
	assert.Equal(t, []string{"mem"}, f.Names())
}

func TestDiscard(t *testing.T) {
	var s Sink = Discard{}
	assert.NoError(t, s.WriteTick(context.Background(), model.TickRecord{}))
	assert.NoError(t, s.WriteLap(context.Background(), model.LapRecord{}))
	assert.NoError(t, s.Close())
}
