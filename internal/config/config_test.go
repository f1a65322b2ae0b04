package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalProfile = `{
	"model": "BMW_i4",
	"temp_max_C": 550,
	"brake_wear_threshold": 0.25,
	"soc_min_pct": 15,
	"lap_length_m": 5300,
	"tick_sec": 0.2
}`

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_MinimalProfile(t *testing.T) {
	cfg, err := Load(writeProfile(t, minimalProfile))
	require.NoError(t, err)

	assert.Equal(t, "BMW_i4", cfg.Model)
	assert.Equal(t, 550.0, cfg.TempMaxC)
	assert.Equal(t, 0.25, cfg.BrakeWearThreshold)
	assert.Equal(t, 15.0, cfg.SOCMinPct)
	assert.Equal(t, 5300.0, cfg.LapLengthM)
	assert.Equal(t, 0.2, cfg.TickSec)
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(writeProfile(t, minimalProfile))
	require.NoError(t, err)

	assert.Equal(t, 20.0, cfg.AmbientC)
	assert.Equal(t, 240.0, cfg.MaxSpeedKph)
	assert.Equal(t, 4.0, cfg.MaxAccelMps2)
	assert.Equal(t, 7.0, cfg.MaxBrakeMps2)
	assert.Equal(t, 0.00175, cfg.DragCoeff)
	assert.Equal(t, 650.0, cfg.BrakeTempMaxPhysical)
	assert.Equal(t, 0.002, cfg.FailureProb)
	assert.False(t, cfg.Failures)
	assert.Equal(t, 3.0, cfg.SOCFloorPct)
	assert.Equal(t, 0.05, cfg.PadFloor)
	assert.Equal(t, 10, cfg.Laps)
	assert.Equal(t, 0.2, cfg.PaceSec, "pace defaults to tick_sec")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./data", cfg.Output.Dir)
	assert.Equal(t, "none", cfg.Storage.Type)
	assert.Equal(t, 200, cfg.Storage.BatchSize)
	assert.Equal(t, "uvtwin/telemetry", cfg.MQTT.Topic)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.OTel.BatchTimeout)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.Backoff)
	assert.Equal(t, DefaultBrakingZones(), cfg.BrakingZones)
	assert.InDelta(t, 37.42198, cfg.Track.OriginLat, 1e-9)
}

func TestLoad_MissingRequiredField(t *testing.T) {
	path := writeProfile(t, `{"model": "x", "temp_max_C": 500, "tick_sec": 0.2}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "brake_wear_threshold")
	assert.Contains(t, err.Error(), "soc_min_pct")
	assert.Contains(t, err.Error(), "lap_length_m")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/profile.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		want    string
	}{
		{
			name:    "negative tick",
			profile: `{"model":"x","temp_max_C":500,"brake_wear_threshold":0.2,"soc_min_pct":15,"lap_length_m":5300,"tick_sec":-1}`,
			want:    "tick_sec",
		},
		{
			name:    "temp max below ambient",
			profile: `{"model":"x","temp_max_C":10,"brake_wear_threshold":0.2,"soc_min_pct":15,"lap_length_m":5300,"tick_sec":0.2}`,
			want:    "temp_max_C",
		},
		{
			name:    "lap shorter than one tick at max speed",
			profile: `{"model":"x","temp_max_C":500,"brake_wear_threshold":0.2,"soc_min_pct":15,"lap_length_m":10,"tick_sec":0.2}`,
			want:    "lap_length_m",
		},
		{
			name:    "threshold out of range",
			profile: `{"model":"x","temp_max_C":500,"brake_wear_threshold":1.5,"soc_min_pct":15,"lap_length_m":5300,"tick_sec":0.2}`,
			want:    "brake_wear_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeProfile(t, tt.profile))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ExplicitPace(t *testing.T) {
	path := writeProfile(t, `{"model":"x","temp_max_C":500,"brake_wear_threshold":0.2,"soc_min_pct":15,"lap_length_m":5300,"tick_sec":0.2,"pace_sec":0}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.PaceSec)
	assert.Equal(t, time.Duration(0), cfg.Pace())
	assert.Equal(t, 200*time.Millisecond, cfg.Tick())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("UVTWIN_LAPS", "3")
	t.Setenv("UVTWIN_MQTT_HOST", "broker.local")

	cfg, err := Load(writeProfile(t, minimalProfile))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Laps)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
}

func TestApply_Overrides(t *testing.T) {
	cfg, err := Load(writeProfile(t, minimalProfile))
	require.NoError(t, err)

	laps := 2
	tick := 0.1
	failures := true
	require.NoError(t, cfg.Apply(Overrides{
		Laps:         &laps,
		TickSec:      &tick,
		Failures:     &failures,
		MQTTEndpoint: "10.0.0.5:1884",
		MQTTTopic:    "fleet/telemetry",
	}))

	assert.Equal(t, 2, cfg.Laps)
	assert.Equal(t, 0.1, cfg.TickSec)
	assert.Equal(t, 0.1, cfg.PaceSec)
	assert.True(t, cfg.Failures)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "10.0.0.5", cfg.MQTT.Host)
	assert.Equal(t, 1884, cfg.MQTT.Port)
	assert.Equal(t, "tcp://10.0.0.5:1884", cfg.MQTT.Endpoint())
	assert.Equal(t, "fleet/telemetry", cfg.MQTT.Topic)
}

func TestApply_BadEndpoint(t *testing.T) {
	cfg, err := Load(writeProfile(t, minimalProfile))
	require.NoError(t, err)

	err = cfg.Apply(Overrides{MQTTEndpoint: "no-port"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("UVTWIN_TEST_DOTENV=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("UVTWIN_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(envPath, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("UVTWIN_TEST_DOTENV"))
}

func TestReference_IsValid(t *testing.T) {
	cfg := Reference()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "reference_ev", cfg.Model)
	assert.Equal(t, time.Duration(0), cfg.Pace())
}
