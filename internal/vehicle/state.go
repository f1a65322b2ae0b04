// Package vehicle holds the per-tick vehicle state and the physical update
// rules applied to it.
package vehicle

import (
	"math"

	"github.com/uvtwin/telemetry-sim/internal/config"
)

// TickState is the full vehicle snapshot after one simulation step.
type TickState struct {
	Elapsed       float64 // seconds since start, monotonic
	Tick          int     // 1 for the first produced record
	Lap           int     // starts at 1
	DistanceInLap float64 // metres
	DistanceTotal float64 // metres
	Speed         float64 // km/h, as reported (a sensor glitch may distort it)
	Acceleration  float64 // m/s², commanded net
	BatterySOC    float64 // percent
	BrakeTemp     float64 // °C
	BrakePad      float64 // remaining fraction, 1.0 = new
	TireWear      float64 // worn fraction, 0.0 = new
	Lat           float64
	Lon           float64
	Failure       string // failure mode injected this tick, empty if none
	Risk          float64
	Reasons       []string
}

// Initial returns the state of a fresh vehicle parked at the start line.
func Initial(cfg *config.Config) TickState {
	return TickState{
		Lap:        1,
		BatterySOC: 100,
		BrakeTemp:  cfg.AmbientC,
		BrakePad:   1,
		TireWear:   0,
		Lat:        cfg.Track.OriginLat,
		Lon:        cfg.Track.OriginLon,
	}
}

// Clone returns a copy that shares no slices with s.
func (s TickState) Clone() TickState {
	if s.Reasons != nil {
		s.Reasons = append([]string(nil), s.Reasons...)
	}
	return s
}

type bound struct {
	name   string
	field  *float64
	lo, hi float64
}

func (s *TickState) bounds(cfg *config.Config) []bound {
	return []bound{
		{"speed", &s.Speed, 0, cfg.MaxSpeedKph},
		{"battery_soc", &s.BatterySOC, 0, 100},
		{"brake_temp", &s.BrakeTemp, cfg.AmbientC, cfg.BrakeTempMaxPhysical},
		{"brake_pad", &s.BrakePad, cfg.PadFloor, 1},
		{"tire_wear", &s.TireWear, 0, 1},
		{"risk", &s.Risk, 0, 1},
	}
}

// Sanitize clamps every bounded field into its declared range and returns the
// names of fields that held NaN or Inf before clamping. NaN is replaced by the
// lower bound.
func (s *TickState) Sanitize(cfg *config.Config) []string {
	var bad []string
	for _, b := range s.bounds(cfg) {
		v := *b.field
		switch {
		case math.IsNaN(v):
			bad = append(bad, b.name)
			v = b.lo
		case math.IsInf(v, 0):
			bad = append(bad, b.name)
		}
		*b.field = Clamp(v, b.lo, b.hi)
	}
	for name, f := range map[string]*float64{
		"acceleration":    &s.Acceleration,
		"distance_in_lap": &s.DistanceInLap,
		"distance_total":  &s.DistanceTotal,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			bad = append(bad, name)
			*f = 0
		}
	}
	return bad
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
