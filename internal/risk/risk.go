// Package risk turns a vehicle snapshot into a bounded risk score with
// human-readable reasons.
package risk

import (
	"fmt"
	"math"

	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/failure"
	"github.com/uvtwin/telemetry-sim/internal/vehicle"
)

// Nominal is the only reason reported when no factor contributes.
const Nominal = "nominal"

// FailureReasonPrefix precedes the mode name in an injected-failure reason.
const FailureReasonPrefix = "random_failure: "

// Factor names one contributor to the score.
type Factor string

const (
	FactorTempHigh    Factor = "temp_high"
	FactorTempNearing Factor = "temp_nearing"
	FactorPadLow      Factor = "pad_low"
	FactorBatteryLow  Factor = "battery_low"
	FactorTireWorn    Factor = "tire_worn"
	FactorFailure     Factor = "failure"
)

// Contribution is one triggered factor with its weight and reason.
type Contribution struct {
	Factor Factor
	Weight float64
	Reason string
}

// Assessment is the result of scoring one state.
type Assessment struct {
	Score         float64
	Reasons       []string
	Contributions []Contribution
}

// Contribution returns the weight of f, 0 if it did not trigger.
func (a Assessment) Contribution(f Factor) float64 {
	for _, c := range a.Contributions {
		if c.Factor == f {
			return c.Weight
		}
	}
	return 0
}

// Score is a pure function of the state and profile. Contributions are summed
// in a fixed order and the total is clamped to [0,1].
func Score(s vehicle.TickState, cfg *config.Config) Assessment {
	var cs []Contribution

	switch {
	case s.BrakeTemp > cfg.TempMaxC:
		over := math.Min((s.BrakeTemp-cfg.TempMaxC)/30, 1)
		cs = append(cs, Contribution{
			Factor: FactorTempHigh,
			Weight: 0.6 * over,
			Reason: fmt.Sprintf("brake temperature high (%.1f°C > %.1f°C)", s.BrakeTemp, cfg.TempMaxC),
		})
	case s.BrakeTemp > cfg.TempMaxC-10:
		cs = append(cs, Contribution{
			Factor: FactorTempNearing,
			Weight: 0.3,
			Reason: fmt.Sprintf("brake temperature nearing limit (%.1f°C)", s.BrakeTemp),
		})
	}

	if s.BrakePad < cfg.BrakeWearThreshold {
		under := math.Min((cfg.BrakeWearThreshold-s.BrakePad)/0.3, 1)
		cs = append(cs, Contribution{
			Factor: FactorPadLow,
			Weight: 0.5 * under,
			Reason: fmt.Sprintf("brake pad low (%.2f < %.2f)", s.BrakePad, cfg.BrakeWearThreshold),
		})
	}

	if s.BatterySOC < cfg.SOCMinPct {
		w := math.Max(0.4*math.Min((cfg.SOCMinPct-s.BatterySOC)/cfg.SOCMinPct, 1), 0.1)
		cs = append(cs, Contribution{
			Factor: FactorBatteryLow,
			Weight: w,
			Reason: fmt.Sprintf("battery low (%.1f%%)", s.BatterySOC),
		})
	}

	if s.TireWear > cfg.TireWearWarn {
		w := 0.25 * math.Min((s.TireWear-cfg.TireWearWarn)/(1-cfg.TireWearWarn), 1)
		cs = append(cs, Contribution{
			Factor: FactorTireWorn,
			Weight: w,
			Reason: fmt.Sprintf("tire wear high (%.2f)", s.TireWear),
		})
	}

	if mode := failure.Mode(s.Failure); mode != failure.None {
		cs = append(cs, Contribution{
			Factor: FactorFailure,
			Weight: mode.Severity(),
			Reason: FailureReasonPrefix + string(mode),
		})
	}

	if len(cs) == 0 {
		return Assessment{Reasons: []string{Nominal}}
	}

	a := Assessment{Contributions: cs, Reasons: make([]string, 0, len(cs))}
	for _, c := range cs {
		a.Score += c.Weight
		a.Reasons = append(a.Reasons, c.Reason)
	}
	a.Score = vehicle.Clamp(a.Score, 0, 1)
	return a
}
