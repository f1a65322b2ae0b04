// Package lap tracks progress around the circuit and emits one summary per
// completed lap.
package lap

import (
	"math"

	"github.com/uvtwin/telemetry-sim/internal/vehicle"
)

// Summary describes one completed lap. It is never modified after emission.
type Summary struct {
	Lap          int
	Duration     float64 // seconds between consecutive rollovers
	SpeedMean    float64
	SpeedMax     float64
	BrakeTempMax float64
	SOCDrop      float64
	PadWear      float64
	Ticks        int
	StartedAt    float64 // elapsed seconds
	EndedAt      float64
}

// Tracker is the lap state machine. Its only state is "in lap"; a rollover
// closes the current lap and immediately opens the next one.
type Tracker struct {
	length float64
	lap    int

	startedAt float64
	startSOC  float64
	startPad  float64

	ticks    int
	speedSum float64
	speedMax float64
	tempMax  float64
}

// NewTracker opens lap 1 seeded with the initial vehicle state.
func NewTracker(lapLength float64, initial vehicle.TickState) *Tracker {
	t := &Tracker{length: lapLength, lap: 1}
	t.reseed(initial)
	return t
}

// Lap returns the number of the lap in progress.
func (t *Tracker) Lap() int {
	return t.lap
}

// Fraction returns how far into the lap distanceInLap is, in [0,1).
func (t *Tracker) Fraction(distanceInLap float64) float64 {
	f := distanceInLap / t.length
	return f - math.Floor(f)
}

func (t *Tracker) reseed(s vehicle.TickState) {
	t.startedAt = s.Elapsed
	t.startSOC = s.BatterySOC
	t.startPad = s.BrakePad
	t.ticks = 1
	t.speedSum = s.Speed
	t.speedMax = s.Speed
	t.tempMax = s.BrakeTemp
}

func (t *Tracker) observe(s vehicle.TickState) {
	t.ticks++
	t.speedSum += s.Speed
	t.speedMax = math.Max(t.speedMax, s.Speed)
	t.tempMax = math.Max(t.tempMax, s.BrakeTemp)
}

// Advance adds the distance covered this tick to s, observes the tick and
// handles a rollover. On rollover the overflow is carried into the new lap,
// s.Lap is incremented and the closed lap's summary is returned.
func (t *Tracker) Advance(s *vehicle.TickState, distance float64) (Summary, bool) {
	s.DistanceInLap += distance
	s.DistanceTotal += distance
	s.Lap = t.lap

	if s.DistanceInLap < t.length {
		t.observe(*s)
		return Summary{}, false
	}

	t.observe(*s)
	sum := Summary{
		Lap:          t.lap,
		Duration:     s.Elapsed - t.startedAt,
		SpeedMean:    t.speedSum / float64(t.ticks),
		SpeedMax:     t.speedMax,
		BrakeTempMax: t.tempMax,
		SOCDrop:      t.startSOC - s.BatterySOC,
		PadWear:      t.startPad - s.BrakePad,
		Ticks:        t.ticks,
		StartedAt:    t.startedAt,
		EndedAt:      s.Elapsed,
	}

	t.lap++
	s.Lap = t.lap
	s.DistanceInLap -= t.length
	t.reseed(*s)
	return sum, true
}
