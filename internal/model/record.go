package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uvtwin/telemetry-sim/internal/lap"
	"github.com/uvtwin/telemetry-sim/internal/risk"
	"github.com/uvtwin/telemetry-sim/internal/vehicle"
)

// SchemaVersion identifies the column layout of tick and lap logs and the
// shape of live events. Bump it whenever columns change.
const SchemaVersion = "uvtwin.telemetry/v1"

// ReasonSeparator joins risk reasons inside a single CSV cell.
const ReasonSeparator = ";"

// ErrSchemaMismatch is returned when a log header is not the expected layout.
var ErrSchemaMismatch = errors.New("log header does not match schema " + SchemaVersion)

// TickColumns is the header of history.csv and latest.csv.
var TickColumns = []string{
	"ts", "lap", "tick", "speed_kph", "accel_mps2", "distance_m", "lat", "lon",
	"battery_soc", "brake_pad_frac", "brake_temp_c", "tire_wear_frac", "risk", "reasons",
}

// LapColumns is the header of lap_features.csv.
var LapColumns = []string{
	"lap", "lap_time_sec", "speed_mean", "speed_max", "brake_temp_max", "soc_drop",
}

// TickRecord is one row of the tick log.
type TickRecord struct {
	Timestamp  time.Time
	Lap        int
	Tick       int
	SpeedKph   float64
	AccelMps2  float64
	DistanceM  float64 // total distance
	Lat        float64
	Lon        float64
	BatterySOC float64
	BrakePad   float64
	BrakeTemp  float64
	TireWear   float64
	Risk       float64
	Reasons    []string
	Failure    string
}

// NewTickRecord stamps a vehicle state with wall-clock time.
func NewTickRecord(ts time.Time, s vehicle.TickState) TickRecord {
	return TickRecord{
		Timestamp:  ts.UTC(),
		Lap:        s.Lap,
		Tick:       s.Tick,
		SpeedKph:   s.Speed,
		AccelMps2:  s.Acceleration,
		DistanceM:  s.DistanceTotal,
		Lat:        s.Lat,
		Lon:        s.Lon,
		BatterySOC: s.BatterySOC,
		BrakePad:   s.BrakePad,
		BrakeTemp:  s.BrakeTemp,
		TireWear:   s.TireWear,
		Risk:       s.Risk,
		Reasons:    append([]string(nil), s.Reasons...),
		Failure:    s.Failure,
	}
}

func ff(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// Row renders the record in TickColumns order with fixed precision.
func (r TickRecord) Row() []string {
	return []string{
		r.Timestamp.Format(time.RFC3339Nano),
		strconv.Itoa(r.Lap),
		strconv.Itoa(r.Tick),
		ff(r.SpeedKph, 2),
		ff(r.AccelMps2, 3),
		ff(r.DistanceM, 2),
		ff(r.Lat, 6),
		ff(r.Lon, 6),
		ff(r.BatterySOC, 3),
		ff(r.BrakePad, 4),
		ff(r.BrakeTemp, 2),
		ff(r.TireWear, 4),
		ff(r.Risk, 3),
		strings.Join(r.Reasons, ReasonSeparator),
	}
}

// CheckHeader returns ErrSchemaMismatch unless header equals want exactly.
func CheckHeader(header, want []string) error {
	if len(header) != len(want) {
		return fmt.Errorf("%w: got %d columns, want %d", ErrSchemaMismatch, len(header), len(want))
	}
	for i := range want {
		if strings.TrimSpace(header[i]) != want[i] {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrSchemaMismatch, i, header[i], want[i])
		}
	}
	return nil
}

// ParseTickRow is the inverse of TickRecord.Row. The failure annotation is
// recovered from the reasons.
func ParseTickRow(row []string) (TickRecord, error) {
	if len(row) != len(TickColumns) {
		return TickRecord{}, fmt.Errorf("%w: row has %d fields", ErrSchemaMismatch, len(row))
	}

	var r TickRecord
	var err error
	if r.Timestamp, err = time.Parse(time.RFC3339Nano, row[0]); err != nil {
		return TickRecord{}, fmt.Errorf("parse ts: %w", err)
	}
	ints := []struct {
		dst *int
		col int
	}{{&r.Lap, 1}, {&r.Tick, 2}}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(row[f.col]); err != nil {
			return TickRecord{}, fmt.Errorf("parse %s: %w", TickColumns[f.col], err)
		}
	}
	floats := []struct {
		dst *float64
		col int
	}{
		{&r.SpeedKph, 3}, {&r.AccelMps2, 4}, {&r.DistanceM, 5}, {&r.Lat, 6}, {&r.Lon, 7},
		{&r.BatterySOC, 8}, {&r.BrakePad, 9}, {&r.BrakeTemp, 10}, {&r.TireWear, 11}, {&r.Risk, 12},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(row[f.col], 64); err != nil {
			return TickRecord{}, fmt.Errorf("parse %s: %w", TickColumns[f.col], err)
		}
	}
	if row[13] != "" {
		r.Reasons = strings.Split(row[13], ReasonSeparator)
	}
	for _, reason := range r.Reasons {
		if mode, ok := strings.CutPrefix(reason, risk.FailureReasonPrefix); ok {
			r.Failure = mode
		}
	}
	return r, nil
}

// LapRecord is one row of the lap summary log.
type LapRecord struct {
	Timestamp time.Time
	lap.Summary
}

// NewLapRecord stamps a lap summary with wall-clock time.
func NewLapRecord(ts time.Time, s lap.Summary) LapRecord {
	return LapRecord{Timestamp: ts.UTC(), Summary: s}
}

// Row renders the record in LapColumns order.
func (r LapRecord) Row() []string {
	return []string{
		strconv.Itoa(r.Lap),
		ff(r.Duration, 2),
		ff(r.SpeedMean, 2),
		ff(r.SpeedMax, 2),
		ff(r.BrakeTempMax, 2),
		ff(r.SOCDrop, 3),
	}
}
