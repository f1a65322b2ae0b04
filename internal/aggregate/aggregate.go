// Package aggregate reduces the tick history log to per-lap features.
package aggregate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"

	"github.com/uvtwin/telemetry-sim/internal/model"
)

// OutputFile is the default name of the aggregated feature log.
const OutputFile = "lap_aggregates.csv"

// Columns is the header written by WriteCSV.
var Columns = []string{
	"lap", "ticks", "duration_sec", "speed_mean", "speed_max", "temp_mean", "temp_max",
	"soc_start", "soc_end", "soc_drop", "pad_start", "pad_end", "pad_wear", "efficiency_score",
}

// Efficiency weights of normalised lap time, peak brake temperature and SOC drop.
const (
	weightLapTime   = 0.4
	weightBrakeTemp = 0.3
	weightSOCDrop   = 0.3
)

// ErrNoLaps is returned when no lap has enough ticks.
var ErrNoLaps = errors.New("no complete laps found")

type LapFeatures struct {
	Lap             int
	Ticks           int
	DurationSec     float64
	SpeedMean       float64
	SpeedMax        float64
	TempMean        float64
	TempMax         float64
	SOCStart        float64
	SOCEnd          float64
	SOCDrop         float64
	PadStart        float64
	PadEnd          float64
	PadWear         float64
	EfficiencyScore float64
}

// ReadHistory parses a history log. The header must match the current tick
// schema exactly.
func ReadHistory(r io.Reader) ([]model.TickRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty history: %w", model.ErrSchemaMismatch)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := model.CheckHeader(header, model.TickColumns); err != nil {
		return nil, err
	}

	var recs []model.TickRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := model.ParseTickRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ReadHistoryFile opens path and calls ReadHistory.
func ReadHistoryFile(path string) ([]model.TickRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadHistory(f)
}

// Laps groups recs by lap number and computes the features of every lap with
// at least minTicks records, ordered by lap. Efficiency scores are relative
// to the returned laps.
func Laps(recs []model.TickRecord, minTicks int, tickSec float64) []LapFeatures {
	groups := map[int][]model.TickRecord{}
	for _, r := range recs {
		groups[r.Lap] = append(groups[r.Lap], r)
	}

	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []LapFeatures
	for _, id := range ids {
		g := groups[id]
		if len(g) < minTicks {
			continue
		}
		out = append(out, features(id, g, tickSec))
	}
	scoreEfficiency(out)
	return out
}

func features(lap int, g []model.TickRecord, tickSec float64) LapFeatures {
	f := LapFeatures{
		Lap:         lap,
		Ticks:       len(g),
		DurationSec: float64(len(g)) * tickSec,
		SpeedMax:    math.Inf(-1),
		TempMax:     math.Inf(-1),
		SOCStart:    g[0].BatterySOC,
		SOCEnd:      g[len(g)-1].BatterySOC,
		PadStart:    g[0].BrakePad,
		PadEnd:      g[len(g)-1].BrakePad,
	}
	for _, r := range g {
		f.SpeedMean += r.SpeedKph
		f.TempMean += r.BrakeTemp
		f.SpeedMax = math.Max(f.SpeedMax, r.SpeedKph)
		f.TempMax = math.Max(f.TempMax, r.BrakeTemp)
	}
	f.SpeedMean /= float64(len(g))
	f.TempMean /= float64(len(g))
	f.SOCDrop = math.Max(0, f.SOCStart-f.SOCEnd)
	f.PadWear = math.Max(0, f.PadStart-f.PadEnd)
	return f
}

// normalize maps values onto [0,1]; a flat series maps to 0.5.
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := slices.Min(values), slices.Max(values)
	for i, v := range values {
		if hi-lo < 1e-9 {
			out[i] = 0.5
			continue
		}
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// scoreEfficiency sets EfficiencyScore in [0,100]; shorter laps, cooler
// brakes and smaller SOC drops score higher.
func scoreEfficiency(laps []LapFeatures) {
	times := make([]float64, len(laps))
	temps := make([]float64, len(laps))
	drops := make([]float64, len(laps))
	for i, l := range laps {
		times[i], temps[i], drops[i] = l.DurationSec, l.TempMax, l.SOCDrop
	}
	t, b, s := normalize(times), normalize(temps), normalize(drops)
	for i := range laps {
		laps[i].EfficiencyScore = ((1-t[i])*weightLapTime + (1-b[i])*weightBrakeTemp + (1-s[i])*weightSOCDrop) * 100
	}
}

func ff(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// Row renders f in Columns order.
func (f LapFeatures) Row() []string {
	return []string{
		strconv.Itoa(f.Lap),
		strconv.Itoa(f.Ticks),
		ff(f.DurationSec, 2),
		ff(f.SpeedMean, 2),
		ff(f.SpeedMax, 2),
		ff(f.TempMean, 2),
		ff(f.TempMax, 2),
		ff(f.SOCStart, 3),
		ff(f.SOCEnd, 3),
		ff(f.SOCDrop, 3),
		ff(f.PadStart, 4),
		ff(f.PadEnd, 4),
		ff(f.PadWear, 4),
		ff(f.EfficiencyScore, 2),
	}
}

// WriteCSV writes the header and one row per lap.
func WriteCSV(w io.Writer, laps []LapFeatures) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, l := range laps {
		if err := cw.Write(l.Row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
