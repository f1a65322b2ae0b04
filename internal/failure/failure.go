// Package failure injects rare, one-shot faults into the vehicle state.
package failure

import (
	"math/rand"

	"github.com/uvtwin/telemetry-sim/internal/vehicle"
)

// Mode names an injected fault. The zero value means no fault.
type Mode string

const (
	None         Mode = ""
	ThermalSpike Mode = "brake_overheat"
	BatterySpike Mode = "battery_spike"
	SensorGlitch Mode = "sensor_glitch"
)

// Modes lists every injectable fault in selection order.
var Modes = []Mode{ThermalSpike, BatterySpike, SensorGlitch}

var severity = map[Mode]float64{
	ThermalSpike: 0.9,
	BatterySpike: 0.7,
	SensorGlitch: 0.5,
}

// Severity is the risk contribution of a fault, 0 for None or unknown modes.
func (m Mode) Severity() float64 {
	return severity[m]
}

func (m Mode) String() string {
	if m == None {
		return "none"
	}
	return string(m)
}

// Injector rolls for a fault once per tick. It is not safe for concurrent use.
type Injector struct {
	prob    float64
	enabled bool
	rng     *rand.Rand
}

// NewInjector returns an injector that fires with probability prob per tick
// when enabled. rng must not be nil.
func NewInjector(prob float64, enabled bool, rng *rand.Rand) *Injector {
	return &Injector{prob: prob, enabled: enabled, rng: rng}
}

// Enabled reports whether the injector can fire.
func (i *Injector) Enabled() bool {
	return i != nil && i.enabled && i.prob > 0
}

// Roll decides whether a fault fires this tick and applies it to s.
func (i *Injector) Roll(s *vehicle.TickState) Mode {
	if !i.Enabled() {
		return None
	}
	if i.rng.Float64() >= i.prob {
		return None
	}
	mode := Modes[i.rng.Intn(len(Modes))]
	i.Apply(mode, s)
	return mode
}

// Apply perturbs s for the given mode. The sensor glitch only distorts the
// reported speed; callers keep the physical speed separately. Bounds are
// restored later by TickState.Sanitize.
func (i *Injector) Apply(mode Mode, s *vehicle.TickState) {
	switch mode {
	case ThermalSpike:
		s.BrakeTemp += 30 + i.rng.Float64()*40
	case BatterySpike:
		s.BatterySOC -= 5 + i.rng.Float64()*8
	case SensorGlitch:
		s.Speed += i.rng.Float64()*60 - 30
	default:
		return
	}
	s.Failure = string(mode)
}
