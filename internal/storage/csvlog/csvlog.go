// Package csvlog writes the tick history, the latest snapshot and lap
// summaries as CSV files.
package csvlog

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/uvtwin/telemetry-sim/internal/model"
)

const (
	HistoryFile = "history.csv"
	LatestFile  = "latest.csv"
	LapsFile    = "lap_features.csv"
)

// Writer owns the three CSV files under one directory. The history and lap
// files are append-only; latest.csv is replaced atomically on every tick.
//
// A record that was appended but whose snapshot failed is not appended again
// when the caller retries WriteTick.
type Writer struct {
	mu  sync.Mutex
	dir string

	history *appendLog
	laps    *appendLog

	lastHistory []string
}

// Open creates dir if needed and opens the logs for appending. An existing
// log whose header does not match the current schema is moved aside to
// <name>.<timestamp>.old so that old and new columns never mix.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	w := &Writer{dir: dir}
	var err error
	if w.history, err = openLog(filepath.Join(dir, HistoryFile), model.TickColumns); err != nil {
		return nil, err
	}
	if w.laps, err = openLog(filepath.Join(dir, LapsFile), model.LapColumns); err != nil {
		w.history.close()
		return nil, err
	}
	return w, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// appendLog is one append-only CSV file. good is the size of the file up to
// the last complete row. After a failed flush the file is cut back to good
// and reopened with a fresh writer on the next append.
type appendLog struct {
	path   string
	header []string

	f      *os.File
	w      *csv.Writer
	good   int64
	broken bool
}

func openLog(path string, header []string) (*appendLog, error) {
	if err := rotateIfStale(path, header); err != nil {
		return nil, err
	}
	l := &appendLog{path: path, header: header}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *appendLog) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", l.path, err)
	}

	cw := csv.NewWriter(f)
	size := info.Size()
	if size == 0 {
		if err := cw.Write(l.header); err != nil {
			f.Close()
			return fmt.Errorf("write header %s: %w", l.path, err)
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			f.Close()
			return fmt.Errorf("write header %s: %w", l.path, err)
		}
		if info, err = f.Stat(); err != nil {
			f.Close()
			return fmt.Errorf("stat %s: %w", l.path, err)
		}
		size = info.Size()
	}
	l.f, l.w, l.good = f, cw, size
	return nil
}

func (l *appendLog) reopen() error {
	_ = l.f.Close()
	if err := os.Truncate(l.path, l.good); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("truncate %s: %w", l.path, err)
	}
	if err := l.open(); err != nil {
		return err
	}
	l.broken = false
	return nil
}

func (l *appendLog) append(row []string) error {
	if l.broken {
		if err := l.reopen(); err != nil {
			return err
		}
	}
	if err := l.w.Write(row); err != nil {
		l.broken = true
		return err
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.broken = true
		return err
	}
	info, err := l.f.Stat()
	if err != nil {
		l.broken = true
		return fmt.Errorf("stat %s: %w", l.path, err)
	}
	l.good = info.Size()
	return nil
}

func (l *appendLog) close() error {
	if l.w != nil && !l.broken {
		l.w.Flush()
	}
	return l.f.Close()
}

// rotateIfStale renames path out of the way if its header is not header.
func rotateIfStale(path string, header []string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	got, err := csv.NewReader(bufio.NewReader(f)).Read()
	f.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil && model.CheckHeader(got, header) == nil {
		return nil
	}

	old := fmt.Sprintf("%s.%s.old", path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(path, old); err != nil {
		return fmt.Errorf("rotate %s: %w", path, err)
	}
	return nil
}

// WriteTick appends rec to the history and replaces the latest snapshot.
func (w *Writer) WriteTick(_ context.Context, rec model.TickRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	row := rec.Row()
	if !slices.Equal(row, w.lastHistory) {
		if err := w.history.append(row); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		w.lastHistory = row
	}
	return w.writeLatest(row)
}

func (w *Writer) writeLatest(row []string) error {
	tmp, err := os.CreateTemp(w.dir, ".latest-*.csv")
	if err != nil {
		return fmt.Errorf("write latest: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	_ = cw.Write(model.TickColumns)
	_ = cw.Write(row)
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write latest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write latest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(w.dir, LatestFile)); err != nil {
		return fmt.Errorf("write latest: %w", err)
	}
	return nil
}

// WriteLap appends rec to the lap summary log.
func (w *Writer) WriteLap(_ context.Context, rec model.LapRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.laps.append(rec.Row()); err != nil {
		return fmt.Errorf("append laps: %w", err)
	}
	return nil
}

// Close flushes and closes the files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return errors.Join(w.history.close(), w.laps.close())
}
