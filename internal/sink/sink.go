// Package sink defines where simulation records go and the wrappers that
// keep a slow or failing destination from stalling the tick loop.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uvtwin/telemetry-sim/internal/model"
)

// Sink receives every tick record and every lap summary, in order.
type Sink interface {
	WriteTick(ctx context.Context, rec model.TickRecord) error
	WriteLap(ctx context.Context, rec model.LapRecord) error
	Close() error
}

// Named pairs a sink with the name used in logs and metrics.
type Named struct {
	Name string
	Sink Sink
}

// Fanout forwards records to several sinks. A failing sink never prevents the
// others from receiving the record.
type Fanout struct {
	sinks  []Named
	logger *slog.Logger
}

// NewFanout creates a fan-out over sinks. Nil sinks are skipped.
func NewFanout(logger *slog.Logger, sinks ...Named) *Fanout {
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s.Sink != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add registers another sink.
func (f *Fanout) Add(name string, s Sink) {
	if s != nil {
		f.sinks = append(f.sinks, Named{Name: name, Sink: s})
	}
}

// Names returns the registered sink names in order.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name
	}
	return names
}

// WriteTick implements Sink.
func (f *Fanout) WriteTick(ctx context.Context, rec model.TickRecord) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Sink.WriteTick(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// WriteLap implements Sink.
func (f *Fanout) WriteLap(ctx context.Context, rec model.LapRecord) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Sink.WriteLap(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink in reverse registration order.
func (f *Fanout) Close() error {
	var errs []error
	for i := len(f.sinks) - 1; i >= 0; i-- {
		s := f.sinks[i]
		if err := s.Sink.Close(); err != nil {
			f.logger.Warn("closing sink failed", "sink", s.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Discard accepts and drops everything.
type Discard struct{}

func (Discard) WriteTick(context.Context, model.TickRecord) error { return nil }
func (Discard) WriteLap(context.Context, model.LapRecord) error   { return nil }
func (Discard) Close() error                                       { return nil }
