package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestSetup_FileAndConsole(t *testing.T) {
	var console, file bytes.Buffer
	m := NewSlogManager()
	m.Setup(Outputs{Console: &console, File: &file}, "info")
	m.Logger().Info("hello", "lap", 2)

	assert.Contains(t, console.String(), "hello")
	assert.Contains(t, file.String(), "lap=2")
}

func TestSetup_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
	}{
		{"debug", true},
		{"info", false},
		{"bogus", false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(Outputs{File: &buf}, tt.level)

			m.Logger().Debug("regen detail")
			m.Logger().Info("lap started")

			assert.Equal(t, tt.wantDebug, strings.Contains(buf.String(), "regen detail"))
			assert.Contains(t, buf.String(), "lap started")
		})
	}
}

func TestSetup_SecondCallSwitchesOutputs(t *testing.T) {
	var before, after bytes.Buffer
	m := NewSlogManager()

	m.Setup(Outputs{File: &before}, "info")
	m.Logger().Info("session one")
	m.Setup(Outputs{File: &after}, "info")
	m.Logger().Info("session two")

	assert.NotContains(t, before.String(), "session two")
	assert.Contains(t, after.String(), "session two")
}

func TestSetup_TimesAreUTC(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Outputs{File: &buf}, "info")
	m.Logger().Info("stamp")
	assert.Regexp(t, `time=\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`, buf.String())
}

func TestSetup_GraylogGetsJSON(t *testing.T) {
	var gl bytes.Buffer
	m := NewSlogManager()
	m.Setup(Outputs{Graylog: &gl}, "info")
	m.Logger().Warn("brake overheat", "tick", 12)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(gl.Bytes(), &rec))
	assert.Equal(t, "brake overheat", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, float64(12), rec["tick"])
}

func TestSetup_ContextProvider(t *testing.T) {
	var buf bytes.Buffer
	lap := 1
	m := NewSlogManager()
	m.Setup(Outputs{
		File: &buf,
		Context: func() []slog.Attr {
			return []slog.Attr{slog.String("model", "BMW_i4"), slog.Int("lap", lap)}
		},
	}, "info")

	m.Logger().Info("first")
	lap = 2
	m.Logger().Info("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "model=BMW_i4 lap=1")
	assert.Contains(t, lines[1], "lap=2")
}

func TestManager_BeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Same(t, slog.Default(), m.Logger())
	assert.NoError(t, m.Flush(context.Background()))
}

func TestDialGraylog(t *testing.T) {
	w, err := DialGraylog("127.0.0.1:12201")
	require.NoError(t, err)
	assert.Equal(t, "uvtwin-sim", w.Facility)
	assert.NoError(t, w.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", slog.LevelDebug},
		{"Debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestSetup_OTelBridge(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Outputs{File: &buf, LogProvider: sdklog.NewLoggerProvider()}, "info")

	m.Logger().Info("bridged")
	assert.Contains(t, buf.String(), "bridged")
	assert.NoError(t, m.Flush(context.Background()))
}
