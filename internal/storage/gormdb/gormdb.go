// Package gormdb implements sink.Sink using GORM (SQLite or PostgreSQL)
// with an internal bounded queue and a background DB writer goroutine.
package gormdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uvtwin/telemetry-sim/internal/database"
	"github.com/uvtwin/telemetry-sim/internal/model"
	"github.com/uvtwin/telemetry-sim/internal/model/convert"
	"github.com/uvtwin/telemetry-sim/internal/queue"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Options tune batching and failure handling.
type Options struct {
	BatchSize     int
	MaxQueued     int
	FlushInterval time.Duration
	Attempts      int
	Backoff       time.Duration
}

func (o *Options) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
}

// Backend stores ticks and laps of one session. Ticks are queued and written
// in batches by a background goroutine so the tick loop never waits on the
// database; laps are written synchronously after flushing pending ticks.
type Backend struct {
	db     *gorm.DB
	opts   Options
	logger *slog.Logger

	session model.Session
	ticks   *queue.Queue[model.TickState]

	flushMu  sync.Mutex
	wake     chan struct{}
	stopChan chan struct{}
	done     chan struct{}
	once     sync.Once
}

// New creates a backend on an open database. Call Init before writing.
func New(db *gorm.DB, opts Options, logger *slog.Logger) *Backend {
	opts.defaults()
	return &Backend{
		db:       db,
		opts:     opts,
		logger:   logger.With("sink", "gorm"),
		ticks:    queue.NewBounded[model.TickState](opts.MaxQueued),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Init migrates the schema, creates the session row and starts the writer.
func (b *Backend) Init(vehicleModel string, seed int64, profile any) error {
	if err := database.Migrate(b.db); err != nil {
		return err
	}

	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	b.session = model.Session{
		VehicleModel:  vehicleModel,
		StartTime:     time.Now().UTC(),
		Seed:          seed,
		SchemaVersion: model.SchemaVersion,
		Profile:       datatypes.JSON(raw),
	}
	if err := b.db.Create(&b.session).Error; err != nil {
		return fmt.Errorf("failed to insert new session: %w", err)
	}
	b.logger.Info("Session created", "sessionId", b.session.ID)

	go b.writer()
	return nil
}

// SessionID returns the database id of the current session.
func (b *Backend) SessionID() uint {
	return b.session.ID
}

// Pending returns the number of queued ticks not yet written.
func (b *Backend) Pending() int {
	return b.ticks.Len()
}

// Evicted returns how many queued ticks were dropped because the queue was full.
func (b *Backend) Evicted() int {
	return b.ticks.Evicted()
}

// WriteTick queues the record. When the queue is full the oldest pending
// ticks are evicted.
func (b *Backend) WriteTick(_ context.Context, rec model.TickRecord) error {
	row, err := convert.TickRecordToGorm(b.session.ID, rec)
	if err != nil {
		return err
	}
	if n := b.ticks.Push(row); n > 0 {
		b.logger.Warn("tick queue full, dropped oldest", "dropped", n)
	}
	if b.ticks.Len() >= b.opts.BatchSize {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// WriteLap flushes pending ticks and stores the lap summary.
func (b *Backend) WriteLap(_ context.Context, rec model.LapRecord) error {
	b.flush()
	row := convert.LapRecordToGorm(b.session.ID, rec)
	if err := b.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert lap %d: %w", rec.Lap, err)
	}
	return nil
}

// Finish records the stop reason and end time of the session.
func (b *Backend) Finish(reason string) error {
	now := time.Now().UTC()
	return b.db.Model(&b.session).Updates(map[string]any{
		"end_time":    now,
		"stop_reason": reason,
	}).Error
}

// Close stops the writer and drains the queue.
func (b *Backend) Close() error {
	b.once.Do(func() {
		close(b.stopChan)
		<-b.done
	})
	b.flush()
	if n := b.ticks.Len(); n > 0 {
		b.logger.Warn("closing with unwritten ticks", "count", n)
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *Backend) writer() {
	defer close(b.done)
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
		case <-b.wake:
		}
		b.flush()
	}
}

// flush writes queued ticks batch by batch. A failing batch is retried with
// backoff and dropped after the last attempt.
func (b *Backend) flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	for !b.ticks.Empty() {
		items := b.ticks.PopN(b.opts.BatchSize)
		if err := b.writeBatch(items); err != nil {
			b.logger.Warn("dropping tick batch after retries", "count", len(items), "error", err)
		}
	}
}

func (b *Backend) writeBatch(items []model.TickState) error {
	delay := b.opts.Backoff
	var err error
	for attempt := 1; attempt <= b.opts.Attempts; attempt++ {
		if err = b.db.Create(&items).Error; err == nil {
			return nil
		}
		b.logger.Debug("Error creating tick states", "attempt", attempt, "error", err)
		// rows that failed must be re-inserted with fresh ids
		for i := range items {
			items[i].ID = 0
		}
		if attempt < b.opts.Attempts && delay > 0 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
