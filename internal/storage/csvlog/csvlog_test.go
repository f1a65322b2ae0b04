package csvlog

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uvtwin/telemetry-sim/internal/lap"
	"github.com/uvtwin/telemetry-sim/internal/model"
	"github.com/uvtwin/telemetry-sim/internal/sink"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func tick(n int) model.TickRecord {
	return model.TickRecord{
		Timestamp:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(n) * 200 * time.Millisecond),
		Lap:        1,
		Tick:       n,
		SpeedKph:   float64(n),
		BatterySOC: 100 - float64(n)/10,
		BrakePad:   1,
		Reasons:    []string{"nominal"},
	}
}

func TestWriter_WritesAllThreeFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, w.WriteTick(ctx, tick(i)))
	}
	require.NoError(t, w.WriteLap(ctx, model.NewLapRecord(time.Now(), lap.Summary{Lap: 1, Duration: 90, SOCDrop: 2.5})))
	require.NoError(t, w.Close())

	history := readAll(t, filepath.Join(dir, HistoryFile))
	require.Len(t, history, 4)
	assert.Equal(t, model.TickColumns, history[0])
	assert.Equal(t, "3", history[3][2])

	latest := readAll(t, filepath.Join(dir, LatestFile))
	require.Len(t, latest, 2)
	assert.Equal(t, model.TickColumns, latest[0])
	assert.Equal(t, tick(3).Row(), latest[1])

	laps := readAll(t, filepath.Join(dir, LapsFile))
	require.Len(t, laps, 2)
	assert.Equal(t, model.LapColumns, laps[0])
	assert.Equal(t, []string{"1", "90.00", "0.00", "0.00", "0.00", "2.500"}, laps[1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".latest-"), "temp file %s left behind", e.Name())
	}
}

func TestWriter_AppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	w, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.WriteTick(ctx, tick(1)))
	require.NoError(t, w.Close())

	w, err = Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.WriteTick(ctx, tick(2)))
	require.NoError(t, w.Close())

	history := readAll(t, filepath.Join(dir, HistoryFile))
	require.Len(t, history, 3, "header is written once")
}

func TestWriter_RotatesStaleHeader(t *testing.T) {
	dir := t.TempDir()
	legacy := "timestamp,speed,temp\n1,2,3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, HistoryFile), []byte(legacy), 0644))

	w, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.WriteTick(context.Background(), tick(1)))
	require.NoError(t, w.Close())

	history := readAll(t, filepath.Join(dir, HistoryFile))
	assert.Equal(t, model.TickColumns, history[0])

	matches, err := filepath.Glob(filepath.Join(dir, HistoryFile+".*.old"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, legacy, string(data))
}

func TestWriter_RetriedTickIsAppendedOnce(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	// the snapshot rename fails while a directory sits at its path
	latest := filepath.Join(dir, LatestFile)
	require.NoError(t, os.Mkdir(latest, 0755))

	r, err := sink.WithRetry("csv", w, 3, 0, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ctx := context.Background()
	require.ErrorIs(t, r.WriteTick(ctx, tick(1)), sink.ErrDropped)

	require.NoError(t, os.Remove(latest))
	require.NoError(t, r.WriteTick(ctx, tick(2)))
	require.NoError(t, r.Close())

	history := readAll(t, filepath.Join(dir, HistoryFile))
	require.Len(t, history, 3)
	assert.Equal(t, tick(1).Row(), history[1])
	assert.Equal(t, tick(2).Row(), history[2])
}

// tornWriter passes the first n bytes through and then fails.
type tornWriter struct {
	w io.Writer
	n int
}

func (t *tornWriter) Write(p []byte) (int, error) {
	k := min(len(p), t.n)
	n, err := t.w.Write(p[:k])
	t.n -= n
	if err != nil {
		return n, err
	}
	if k < len(p) {
		return n, errors.New("no space left on device")
	}
	return n, nil
}

func TestWriter_RecoversAfterFailedFlush(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.WriteTick(ctx, tick(1)))

	w.history.w = csv.NewWriter(&tornWriter{w: w.history.f, n: 10})
	require.Error(t, w.WriteTick(ctx, tick(2)))

	require.NoError(t, w.WriteTick(ctx, tick(2)))
	require.NoError(t, w.WriteTick(ctx, tick(3)))
	require.NoError(t, w.Close())

	history := readAll(t, filepath.Join(dir, HistoryFile))
	require.Len(t, history, 4, "partial row is cut before the retry")
	assert.Equal(t, tick(2).Row(), history[2])
	assert.Equal(t, tick(3).Row(), history[3])
}

func TestWriter_LapLogRecoversAfterFailedFlush(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	ctx := context.Background()
	rec := model.NewLapRecord(time.Now(), lap.Summary{Lap: 1, Duration: 90})
	w.laps.w = csv.NewWriter(&tornWriter{w: w.laps.f, n: 3})
	require.Error(t, w.WriteLap(ctx, rec))
	require.NoError(t, w.WriteLap(ctx, rec))
	require.NoError(t, w.Close())

	laps := readAll(t, filepath.Join(dir, LapsFile))
	require.Len(t, laps, 2)
	assert.Equal(t, rec.Row(), laps[1])
}
