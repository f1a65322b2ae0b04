// Package monitor periodically writes a status snapshot of a running
// simulation to a file so operators can watch it without a broker.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uvtwin/telemetry-sim/internal/sim"
)

// StatusFile is the default snapshot name inside the output directory.
const StatusFile = "status.json"

// Gauge samples one value for the snapshot.
type Gauge func() any

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Progress *sim.Progress
	Path     string
	Interval time.Duration
	Logger   *slog.Logger
	// Gauges are sampled on every write, keyed by name.
	Gauges map[string]Gauge
}

// Status is the snapshot written to Path.
type Status struct {
	Time   time.Time      `json:"time"`
	Model  string         `json:"model"`
	Lap    int            `json:"lap"`
	Tick   int            `json:"tick"`
	Uptime string         `json:"uptime"`
	Gauges map[string]any `json:"gauges,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps    Dependencies
	started time.Time

	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus samples the progress and every gauge.
func (s *Service) GetStatus() Status {
	now := time.Now()
	st := Status{Time: now.UTC()}
	if p := s.deps.Progress; p != nil {
		st.Model = p.Model
		st.Lap = p.Lap()
		st.Tick = p.Tick()
	}
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started.IsZero() {
		st.Uptime = now.Sub(started).Round(time.Second).String()
	}
	if len(s.deps.Gauges) > 0 {
		st.Gauges = make(map[string]any, len(s.deps.Gauges))
		for name, gauge := range s.deps.Gauges {
			st.Gauges[name] = gauge()
		}
	}
	return st
}

// WriteStatus replaces the status file with a fresh snapshot.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding status: %w", err)
	}
	tmp := s.deps.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("error writing status file: %w", err)
	}
	return os.Rename(tmp, s.deps.Path)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.deps.Path), 0755); err != nil {
		return fmt.Errorf("error creating status dir: %w", err)
	}
	s.isRunning = true
	s.started = time.Now()
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stopChan, s.done)
	return nil
}

func (s *Service) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	logger := s.deps.Logger
	logger.Debug("Starting status monitor", "path", s.deps.Path, "interval", s.deps.Interval)

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			if err := s.WriteStatus(); err != nil {
				logger.Warn("Error writing final status", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.WriteStatus(); err != nil {
				logger.Warn("Error writing status", "error", err)
			}
		}
	}
}

// Stop stops the status monitor after a final snapshot.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
