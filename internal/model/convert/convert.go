package convert

import (
	"encoding/json"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/uvtwin/telemetry-sim/internal/lap"
	"github.com/uvtwin/telemetry-sim/internal/model"
)

// pointToLonLat converts a geom.Point back to a WGS84 position
func pointToLonLat(p geom.Point) (lon, lat float64) {
	coord, ok := p.Coordinates()
	if !ok {
		return 0, 0
	}
	return coord.XY.X, coord.XY.Y
}

// TickStateToRecord converts a GORM TickState back to a tick record.
func TickStateToRecord(s model.TickState) model.TickRecord {
	lon, lat := pointToLonLat(s.Position)
	var reasons []string
	if len(s.Reasons) > 0 {
		_ = json.Unmarshal(s.Reasons, &reasons)
	}
	return model.TickRecord{
		Timestamp:  s.Time,
		Lap:        s.Lap,
		Tick:       s.Tick,
		SpeedKph:   float64(s.SpeedKph),
		AccelMps2:  float64(s.AccelMps2),
		DistanceM:  s.DistanceM,
		Lat:        lat,
		Lon:        lon,
		BatterySOC: float64(s.BatterySOC),
		BrakePad:   float64(s.BrakePad),
		BrakeTemp:  float64(s.BrakeTemp),
		TireWear:   float64(s.TireWear),
		Risk:       float64(s.Risk),
		Reasons:    reasons,
		Failure:    s.Failure,
	}
}

// LapSummaryToRecord converts a GORM LapSummary back to a lap record.
func LapSummaryToRecord(s model.LapSummary) model.LapRecord {
	return model.LapRecord{
		Timestamp: s.Time,
		Summary: lap.Summary{
			Lap:          s.Lap,
			Duration:     s.LapTimeSec,
			SpeedMean:    s.SpeedMean,
			SpeedMax:     s.SpeedMax,
			BrakeTempMax: s.BrakeTempMax,
			SOCDrop:      s.SOCDrop,
			PadWear:      s.PadWear,
			Ticks:        s.Ticks,
		},
	}
}
