package influx

import (
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/lap"
	"github.com/uvtwin/telemetry-sim/internal/model"
)

var ts = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestTickPoint(t *testing.T) {
	p := TickPoint("BMW_i4", "s1", model.TickRecord{
		Timestamp:  ts,
		Lap:        2,
		Tick:       41,
		SpeedKph:   120.5,
		BatterySOC: 88,
		Failure:    "sensor_glitch",
	})

	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	assert.True(t, strings.HasPrefix(line, "vehicle_tick,failure=sensor_glitch,model=BMW_i4,session=s1 "), line)
	assert.Contains(t, line, "lap=2i")
	assert.Contains(t, line, "tick=41i")
	assert.Contains(t, line, "speed_kph=120.5")
	assert.Contains(t, line, "battery_soc=88")
	assert.True(t, strings.HasSuffix(line, " 1740823200000000000\n"), line)
}

func TestTickPoint_NoFailureTag(t *testing.T) {
	line := influxdb2_write.PointToLineProtocol(TickPoint("BMW_i4", "", model.TickRecord{Timestamp: ts}), time.Nanosecond)
	assert.True(t, strings.HasPrefix(line, "vehicle_tick,model=BMW_i4 "), line)
}

func TestLapPoint(t *testing.T) {
	rec := model.NewLapRecord(ts, lap.Summary{Lap: 3, Duration: 92.5, SpeedMax: 201, SOCDrop: 1.5})
	line := influxdb2_write.PointToLineProtocol(LapPoint("BMW_i4", "", rec), time.Nanosecond)

	assert.True(t, strings.HasPrefix(line, "vehicle_lap,model=BMW_i4 "), line)
	assert.Contains(t, line, "lap=3i")
	assert.Contains(t, line, "lap_time_sec=92.5")
	assert.Contains(t, line, "soc_drop=1.5")
}

func TestManager_ConnectDisabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{}, "BMW_i4", "")
	assert.Error(t, m.Connect(context.Background()))
}

func TestManager_BackupWhenUnreachable(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "sub", "influx_backup.lp.gz")
	m := NewManager(zerolog.Nop(), config.InfluxConfig{
		Enabled:    true,
		Protocol:   "http",
		Host:       "127.0.0.1",
		Port:       "1",
		Org:        "uvtwin",
		Bucket:     "telemetry",
		BackupPath: backup,
	}, "BMW_i4", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)

	require.NoError(t, m.WriteTick(ctx, model.TickRecord{Timestamp: ts, Lap: 1, Tick: 1}))
	require.NoError(t, m.WriteLap(ctx, model.NewLapRecord(ts, lap.Summary{Lap: 1})))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], TickMeasurement+","))
	assert.True(t, strings.HasPrefix(lines[1], LapMeasurement+","))
}
