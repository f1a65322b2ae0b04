// Package control provides driver input strategies for the simulator.
package control

import (
	"math"
	"math/rand"

	"github.com/uvtwin/telemetry-sim/internal/config"
)

// Input is what the driver sees at the start of a tick.
type Input struct {
	Elapsed     float64 // seconds since the run started
	LapFraction float64 // position in the lap, [0,1)
	SpeedKph    float64
}

// Policy decides throttle and brake in [0,1].
type Policy interface {
	Controls(in Input) (throttle, brake float64)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(in Input) (throttle, brake float64)

// Controls calls f.
func (f PolicyFunc) Controls(in Input) (float64, float64) {
	return f(in)
}

// Constant always returns the same inputs.
type Constant struct {
	Throttle float64
	Brake    float64
}

// Controls returns the fixed inputs.
func (c Constant) Controls(Input) (float64, float64) {
	return c.Throttle, c.Brake
}

// Coast applies neither throttle nor brake.
var Coast = Constant{}

const (
	// CornerSpeedKph is the speed the default driver brakes down to in a zone.
	CornerSpeedKph = 80.0
	// cornerThrottle carries the car through a zone once it is at corner speed.
	cornerThrottle = 0.35
)

// Oscillating is the default driver: a slow throttle wave with small random
// variation. Inside a braking zone it brakes firmly while faster than
// CornerSpeedKph and otherwise holds a part throttle, so the car always
// leaves the zone.
type Oscillating struct {
	zones []config.BrakingZone
	rng   *rand.Rand
}

// NewOscillating returns the default driver. rng must not be nil.
func NewOscillating(zones []config.BrakingZone, rng *rand.Rand) *Oscillating {
	return &Oscillating{zones: zones, rng: rng}
}

// InZone reports whether lapFraction falls inside a braking zone.
func (o *Oscillating) InZone(lapFraction float64) bool {
	for _, z := range o.zones {
		if lapFraction >= z.Start && lapFraction < z.End {
			return true
		}
	}
	return false
}

// Controls implements Policy.
func (o *Oscillating) Controls(in Input) (float64, float64) {
	throttle := 0.55 + 0.4*math.Sin(0.15*in.Elapsed) + (o.rng.Float64()*0.1 - 0.05)
	throttle = math.Max(0, math.Min(1, throttle))

	if !o.InZone(in.LapFraction) {
		return throttle, 0
	}
	if in.SpeedKph <= CornerSpeedKph {
		return math.Max(cornerThrottle, throttle*0.2), 0
	}
	brake := 0.6 + o.rng.Float64()*0.3
	return throttle * 0.2, brake
}
