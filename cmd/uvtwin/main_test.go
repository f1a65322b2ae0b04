package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uvtwin/telemetry-sim/internal/aggregate"
	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/model"
	"github.com/uvtwin/telemetry-sim/internal/monitor"
	"github.com/uvtwin/telemetry-sim/internal/storage/csvlog"
)

func writeTestProfile(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`{
	"model": "EV-TEST",
	"temp_max_C": 420,
	"brake_wear_threshold": 0.3,
	"soc_min_pct": 15,
	"lap_length_m": 1200,
	"tick_sec": 0.5,
	"pace_sec": 0,
	"laps": 1,
	"seed": 7,
	"min_ticks_per_lap": 5,
	"logsDir": %q,
	"output": {"dir": %q},
	"storage": {"type": "sqlite", "sqlite": {"path": %q}}
}`, filepath.Join(dir, "logs"), filepath.Join(dir, "data"), filepath.Join(dir, "data", "telemetry.db"))
	path := filepath.Join(dir, "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunThenAggregate(t *testing.T) {
	dir := t.TempDir()
	profile := writeTestProfile(t, dir)
	envFile := filepath.Join(dir, "missing.env")

	out, err := execute(t, "run", "--config", profile, "--env-file", envFile, "--log-level", "warn")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "laps_completed: 1 laps"), out)
	assert.Contains(t, out, "seed 7")

	dataDir := filepath.Join(dir, "data")
	history := readCSV(t, filepath.Join(dataDir, csvlog.HistoryFile))
	assert.Equal(t, model.TickColumns, history[0])
	assert.Greater(t, len(history), 5)

	laps := readCSV(t, filepath.Join(dataDir, csvlog.LapsFile))
	require.Len(t, laps, 2)
	assert.Equal(t, "1", laps[1][0])

	latest := readCSV(t, filepath.Join(dataDir, csvlog.LatestFile))
	require.Len(t, latest, 2)
	assert.Equal(t, history[len(history)-1], latest[1])

	assert.FileExists(t, filepath.Join(dataDir, "telemetry.db"))
	assert.FileExists(t, filepath.Join(dataDir, monitor.StatusFile))
	logs, err := filepath.Glob(filepath.Join(dir, "logs", "uvtwin.*.log"))
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = execute(t, "aggregate", "--config", profile, "--env-file", envFile, "--log-level", "warn")
	require.NoError(t, err)
	agg := readCSV(t, filepath.Join(dataDir, aggregate.OutputFile))
	assert.Equal(t, aggregate.Columns, agg[0])
	require.GreaterOrEqual(t, len(agg), 2)
	assert.Equal(t, "1", agg[1][0])
}

func TestAggregate_NoLaps(t *testing.T) {
	dir := t.TempDir()
	profile := writeTestProfile(t, dir)
	history := filepath.Join(dir, "history.csv")
	require.NoError(t, os.WriteFile(history, []byte(strings.Join(model.TickColumns, ",")+"\n"), 0644))

	_, err := execute(t, "aggregate", "--config", profile, "--env-file", filepath.Join(dir, "none"),
		"--history", history, "--out", filepath.Join(dir, "out.csv"), "--log-level", "error")
	assert.ErrorIs(t, err, aggregate.ErrNoLaps)
	assert.NoFileExists(t, filepath.Join(dir, "out.csv"))
}

func TestRun_BadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": "x"}`), 0644))

	_, err := execute(t, "run", "--config", path, "--env-file", filepath.Join(dir, "none"))
	assert.ErrorIs(t, err, config.ErrMissingField)
}

func TestOverridesFromFlags(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--laps", "3", "--tick", "0.1", "--failures", "--mqtt", "broker:1884", "--origin", "48.1, 11.5",
	}))

	o, err := overridesFromFlags(cmd)
	require.NoError(t, err)
	require.NotNil(t, o.Laps)
	assert.Equal(t, 3, *o.Laps)
	require.NotNil(t, o.TickSec)
	assert.Equal(t, 0.1, *o.TickSec)
	assert.Nil(t, o.PaceSec)
	assert.Nil(t, o.Seed)
	require.NotNil(t, o.Failures)
	assert.True(t, *o.Failures)
	assert.Equal(t, "broker:1884", o.MQTTEndpoint)
	assert.Empty(t, o.MQTTTopic)
	require.NotNil(t, o.OriginLat)
	assert.Equal(t, 48.1, *o.OriginLat)
	assert.Equal(t, 11.5, *o.OriginLon)
}

func TestParseOrigin_Invalid(t *testing.T) {
	for _, in := range []string{"48.1", "north,11", "48.1,east"} {
		_, _, err := parseOrigin(in)
		assert.ErrorIs(t, err, config.ErrInvalid, in)
	}
}

func TestPrintEvent(t *testing.T) {
	rec := model.TickRecord{
		Timestamp:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Lap:        2,
		Tick:       140,
		SpeedKph:   182.34,
		BatterySOC: 71.26,
		BrakeTemp:  388.9,
		Risk:       0.42,
		Reasons:    []string{"brake temperature nearing limit (388.9°C)", "random_failure: sensor_glitch"},
		Failure:    "sensor_glitch",
	}
	var buf bytes.Buffer
	printEvent(&buf, model.NewEvent("EV-01", "s1", rec))

	assert.Equal(t,
		"10:00:00.000 EV-01 lap=2 tick=140 speed=182.3 soc=71.3 brake=388.9 risk=0.42 [brake temperature nearing limit (388.9°C);random_failure: sensor_glitch] FAILURE=sensor_glitch\n",
		buf.String())
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
	assert.Contains(t, out, model.SchemaVersion)
}
