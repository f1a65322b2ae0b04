// Package sim drives the vehicle model tick by tick and hands every record
// to a sink.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/control"
	"github.com/uvtwin/telemetry-sim/internal/failure"
	"github.com/uvtwin/telemetry-sim/internal/geo"
	"github.com/uvtwin/telemetry-sim/internal/lap"
	"github.com/uvtwin/telemetry-sim/internal/model"
	"github.com/uvtwin/telemetry-sim/internal/risk"
	"github.com/uvtwin/telemetry-sim/internal/sink"
	"github.com/uvtwin/telemetry-sim/internal/vehicle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNonFinite is returned in strict mode when an update produced NaN or Inf.
var ErrNonFinite = errors.New("non-finite value in vehicle state")

// StopReason explains why Run returned.
type StopReason string

const (
	StopLapsCompleted StopReason = "laps_completed"
	StopSOCFloor      StopReason = "soc_floor"
	StopPadFloor      StopReason = "pad_floor"
	StopTireLimit     StopReason = "tire_limit"
	StopRequested     StopReason = "stopped"
)

// Options configure a Simulator. Zero values select the defaults derived from
// the config.
type Options struct {
	Policy   control.Policy
	Injector *failure.Injector
	Sink     sink.Sink
	Logger   *slog.Logger
	Clock    func() time.Time
	Track    *geo.Track
	// Initial replaces the parked-at-start state.
	Initial *vehicle.TickState
	// Progress is updated after every tick for log context.
	Progress *Progress
	// Strict turns clamped non-finite values into ErrNonFinite.
	Strict bool
}

// Result summarises a finished run.
type Result struct {
	Reason StopReason
	Seed   int64
	Ticks  int
	Laps   []lap.Summary
	Final  vehicle.TickState
	// Simulated is the vehicle time covered, Ticks steps of cfg.Tick().
	Simulated time.Duration
}

// Simulator owns the single mutable vehicle state of a session.
// Step and Run must not be called concurrently; Stop may be called from any
// goroutine.
type Simulator struct {
	cfg      *config.Config
	policy   control.Policy
	injector *failure.Injector
	sink     sink.Sink
	logger   *slog.Logger
	clock    func() time.Time
	track    *geo.Track
	progress *Progress
	strict   bool
	seed     int64

	state     vehicle.TickState
	physSpeed float64 // true speed, unaffected by sensor glitches
	tracker   *lap.Tracker

	stop     chan struct{}
	stopOnce sync.Once

	ticksC    metric.Int64Counter
	lapsC     metric.Int64Counter
	failuresC metric.Int64Counter
}

// New builds a simulator for cfg. A zero cfg.Seed picks a time-based seed.
func New(cfg *config.Config, opts Options) (*Simulator, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	s := &Simulator{
		cfg:      cfg,
		policy:   opts.Policy,
		injector: opts.Injector,
		sink:     opts.Sink,
		logger:   opts.Logger,
		clock:    opts.Clock,
		track:    opts.Track,
		progress: opts.Progress,
		strict:   opts.Strict,
		seed:     seed,
		stop:     make(chan struct{}),
	}
	if s.policy == nil {
		s.policy = control.NewOscillating(cfg.BrakingZones, rng)
	}
	if s.injector == nil {
		s.injector = failure.NewInjector(cfg.FailureProb, cfg.Failures, rng)
	}
	if s.sink == nil {
		s.sink = sink.Discard{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.track == nil {
		track, err := geo.NewTrack(cfg)
		if err != nil {
			return nil, fmt.Errorf("build track: %w", err)
		}
		s.track = track
	}

	if opts.Initial != nil {
		s.state = opts.Initial.Clone()
	} else {
		s.state = vehicle.Initial(cfg)
	}
	s.state.Lat, s.state.Lon = s.track.Position(s.state.DistanceInLap)
	s.physSpeed = s.state.Speed
	s.tracker = lap.NewTracker(cfg.LapLengthM, s.state)

	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulator) initMetrics() error {
	m := meter()
	var err error
	if s.ticksC, err = m.Int64Counter("sim.ticks", metric.WithDescription("Simulation ticks produced")); err != nil {
		return err
	}
	if s.lapsC, err = m.Int64Counter("sim.laps", metric.WithDescription("Laps completed")); err != nil {
		return err
	}
	if s.failuresC, err = m.Int64Counter("sim.failures", metric.WithDescription("Injected failures by mode")); err != nil {
		return err
	}
	return nil
}

// Seed returns the seed driving the default policy and injector.
func (s *Simulator) Seed() int64 {
	return s.seed
}

// State returns a copy of the current vehicle state.
func (s *Simulator) State() vehicle.TickState {
	return s.state.Clone()
}

// Stop asks Run to return after the current tick.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Step advances the simulation by one tick, writes the record and, when a
// lap closed, the lap summary. Sink failures are logged, not returned.
func (s *Simulator) Step(ctx context.Context) (vehicle.TickState, *lap.Summary, error) {
	dt := s.cfg.TickSec
	st := &s.state

	throttle, brake := s.policy.Controls(control.Input{
		Elapsed:     st.Elapsed,
		LapFraction: s.tracker.Fraction(st.DistanceInLap),
		SpeedKph:    s.physSpeed,
	})

	motion := vehicle.Kinematics(s.cfg, s.physSpeed, throttle, brake, dt)
	st.Speed = motion.Speed
	st.Acceleration = motion.Acceleration
	s.physSpeed = motion.Speed

	vehicle.ApplyThermalWear(s.cfg, st, throttle, brake, dt)

	st.Failure = ""
	if mode := s.injector.Roll(st); mode != failure.None {
		s.failuresC.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode.String())))
		s.logger.Warn("Failure injected", "mode", mode.String(), "tick", st.Tick+1)
	}

	distance := motion.Distance
	bad := st.Sanitize(s.cfg)
	if math.IsNaN(distance) || math.IsInf(distance, 0) {
		bad = append(bad, "distance")
		distance = 0
	}
	if len(bad) > 0 {
		if s.strict {
			return st.Clone(), nil, fmt.Errorf("%w: %v", ErrNonFinite, bad)
		}
		s.logger.Warn("Non-finite values clamped", "fields", bad, "tick", st.Tick+1)
	}
	if math.IsNaN(s.physSpeed) || math.IsInf(s.physSpeed, 0) {
		s.physSpeed = st.Speed
	}

	assessment := risk.Score(*st, s.cfg)
	st.Risk = assessment.Score
	st.Reasons = assessment.Reasons

	st.Elapsed += dt
	st.Tick++
	summary, rolled := s.tracker.Advance(st, distance)
	st.Lat, st.Lon = s.track.Position(st.DistanceInLap)

	s.ticksC.Add(ctx, 1)
	if s.progress != nil {
		s.progress.update(st.Lap, st.Tick)
	}

	now := s.clock()
	if err := s.sink.WriteTick(ctx, model.NewTickRecord(now, *st)); err != nil {
		s.logger.Warn("Failed to write tick", "tick", st.Tick, "error", err)
	}

	if !rolled {
		return st.Clone(), nil, nil
	}

	s.lapsC.Add(ctx, 1)
	s.logger.Info("Lap completed",
		"lap", summary.Lap,
		"duration", summary.Duration,
		"speedMean", summary.SpeedMean,
		"brakeTempMax", summary.BrakeTempMax,
		"socDrop", summary.SOCDrop,
	)
	if err := s.sink.WriteLap(ctx, model.NewLapRecord(now, summary)); err != nil {
		s.logger.Warn("Failed to write lap", "lap", summary.Lap, "error", err)
	}
	return st.Clone(), &summary, nil
}

// floorBreached checks the resource floors in a fixed order.
func (s *Simulator) floorBreached(st vehicle.TickState) (StopReason, bool) {
	switch {
	case st.BatterySOC <= s.cfg.SOCFloorPct:
		return StopSOCFloor, true
	case st.BrakePad <= s.cfg.PadFloor:
		return StopPadFloor, true
	case st.TireWear >= s.cfg.TireWearLimit:
		return StopTireLimit, true
	}
	return "", false
}

func (s *Simulator) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.stop:
		return true
	default:
		return false
	}
}

// pace sleeps for the configured pace and reports false if interrupted.
func (s *Simulator) pace(ctx context.Context) bool {
	d := s.cfg.Pace()
	if d <= 0 {
		return !s.stopped(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	}
}

// Run steps until the lap count is reached, a resource floor is breached or
// the run is stopped. A zero cfg.Laps runs until stopped.
func (s *Simulator) Run(ctx context.Context) (Result, error) {
	res := Result{Seed: s.seed}
	s.logger.Info("Simulation started",
		"model", s.cfg.Model,
		"laps", s.cfg.Laps,
		"tick", s.cfg.Tick(),
		"seed", s.seed,
		"failures", s.injector.Enabled(),
	)

	for res.Reason == "" {
		if s.stopped(ctx) {
			res.Reason = StopRequested
			break
		}

		st, summary, err := s.Step(ctx)
		if err != nil {
			res.Final = st
			return res, err
		}
		res.Ticks++

		if summary != nil {
			res.Laps = append(res.Laps, *summary)
			if s.cfg.Laps > 0 && summary.Lap >= s.cfg.Laps {
				res.Reason = StopLapsCompleted
				break
			}
		}
		if reason, ok := s.floorBreached(st); ok {
			res.Reason = reason
			break
		}
		if !s.pace(ctx) {
			res.Reason = StopRequested
		}
	}

	res.Final = s.State()
	res.Simulated = time.Duration(res.Ticks) * s.cfg.Tick()
	s.logger.Info("Simulation stopped",
		"reason", string(res.Reason),
		"ticks", res.Ticks,
		"simulated", res.Simulated,
		"laps", len(res.Laps),
		"distance", res.Final.DistanceTotal,
		"soc", res.Final.BatterySOC,
	)
	return res, nil
}
