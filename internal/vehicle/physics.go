package vehicle

import (
	"math"

	"github.com/uvtwin/telemetry-sim/internal/config"
)

// Motion is the result of one kinematic step.
type Motion struct {
	Speed        float64 // km/h
	Acceleration float64 // m/s², commanded net
	Distance     float64 // metres covered this tick
}

// Kinematics advances speed from the driver inputs. Throttle and brake are
// clamped to [0,1]. The reported acceleration is the commanded value even when
// drag or the speed cap absorb it.
func Kinematics(cfg *config.Config, speedKph, throttle, brake, dt float64) Motion {
	throttle = Clamp(throttle, 0, 1)
	brake = Clamp(brake, 0, 1)

	net := throttle*cfg.MaxAccelMps2 - brake*cfg.MaxBrakeMps2
	v := math.Max(0, speedKph/3.6+net*dt)
	v = math.Max(0, v-cfg.DragCoeff*v*v*dt)
	v = math.Min(v, cfg.MaxSpeedKph/3.6)

	return Motion{
		Speed:        v * 3.6,
		Acceleration: net,
		Distance:     v * dt,
	}
}

// coolScaleC is the excess over ambient at which cooling runs at twice the
// base rate; below it cooling is linear at cool_rate.
const coolScaleC = 150.0

// heavyLoad reports whether the brakes are heating this tick.
func heavyLoad(speedKph, throttle, brake float64) bool {
	return brake > 0.05 || throttle > 0.85 || speedKph > 160
}

// ApplyThermalWear updates brake temperature, battery, pad and tire wear on s
// using the already updated speed and acceleration. Results are clamped.
func ApplyThermalWear(cfg *config.Config, s *TickState, throttle, brake, dt float64) {
	throttle = Clamp(throttle, 0, 1)
	brake = Clamp(brake, 0, 1)

	if heavyLoad(s.Speed, throttle, brake) {
		s.BrakeTemp += cfg.HeatRateCPerS * dt * (0.5 + brake + 0.4*throttle)
	}
	s.BrakeTemp -= cfg.CoolRateCPerS * dt * math.Max(1, (s.BrakeTemp-cfg.AmbientC)/coolScaleC)
	s.BrakeTemp = Clamp(s.BrakeTemp, cfg.AmbientC, cfg.BrakeTempMaxPhysical)

	speedLoad := s.Speed / 120
	heatLoad := math.Pow(math.Max(s.BrakeTemp, 0)/120, 1.2)
	drain := cfg.SOCDrainPctPerS * dt * (1 + speedLoad*speedLoad + heatLoad)
	s.BatterySOC = Clamp(s.BatterySOC-drain, 0, 100)

	padWear := cfg.PadWearRatePerS * dt * (brake + 0.3*s.Speed/200)
	s.BrakePad = Clamp(s.BrakePad-padWear, cfg.PadFloor, 1)

	tireWear := cfg.TireWearRatePerS * dt * (s.Speed/220 + math.Abs(s.Acceleration)/cfg.MaxBrakeMps2)
	s.TireWear = Clamp(s.TireWear+tireWear, 0, 1)
}
