// Package convert provides functions to convert between log records and GORM models
package convert

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/uvtwin/telemetry-sim/internal/model"
	"gorm.io/datatypes"
)

// lonLatToPoint converts a WGS84 position to a geom.Point (X=lon, Y=lat)
func lonLatToPoint(lon, lat float64) (geom.Point, error) {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: lon, Y: lat}})
}

// reasonsToJSON converts a []string to datatypes.JSON for DB storage.
func reasonsToJSON(reasons []string) datatypes.JSON {
	if len(reasons) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(reasons)
	return datatypes.JSON(data)
}

// TickRecordToGorm converts a tick record to a GORM model.TickState. It fails
// when the position is not a finite coordinate.
func TickRecordToGorm(sessionID uint, r model.TickRecord) (model.TickState, error) {
	pos, err := lonLatToPoint(r.Lon, r.Lat)
	if err != nil {
		return model.TickState{}, fmt.Errorf("tick %d position: %w", r.Tick, err)
	}
	return model.TickState{
		Time:       r.Timestamp,
		SessionID:  sessionID,
		Lap:        r.Lap,
		Tick:       r.Tick,
		Position:   pos,
		SpeedKph:   float32(r.SpeedKph),
		AccelMps2:  float32(r.AccelMps2),
		DistanceM:  r.DistanceM,
		BatterySOC: float32(r.BatterySOC),
		BrakePad:   float32(r.BrakePad),
		BrakeTemp:  float32(r.BrakeTemp),
		TireWear:   float32(r.TireWear),
		Risk:       float32(r.Risk),
		Reasons:    reasonsToJSON(r.Reasons),
		Failure:    r.Failure,
	}, nil
}

// LapRecordToGorm converts a lap record to a GORM model.LapSummary.
func LapRecordToGorm(sessionID uint, r model.LapRecord) model.LapSummary {
	return model.LapSummary{
		Time:         r.Timestamp,
		SessionID:    sessionID,
		Lap:          r.Lap,
		LapTimeSec:   r.Duration,
		SpeedMean:    r.SpeedMean,
		SpeedMax:     r.SpeedMax,
		BrakeTempMax: r.BrakeTempMax,
		SOCDrop:      r.SOCDrop,
		PadWear:      r.PadWear,
		Ticks:        r.Ticks,
	}
}
