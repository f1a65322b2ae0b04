package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/model"
)

// Measurement names written by the sink.
const (
	TickMeasurement = "vehicle_tick"
	LapMeasurement  = "vehicle_lap"
)

// Manager handles the InfluxDB connection and writes. When the server is
// unreachable at startup, points are written as gzipped line protocol to
// the backup file instead.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Logger       zerolog.Logger

	cfg     config.InfluxConfig
	model   string
	session string

	mu         sync.Mutex
	backupFile *os.File
}

// NewManager creates a new InfluxDB manager for one vehicle session.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig, vehicleModel, session string) *Manager {
	return &Manager{
		IsValid: false,
		Logger:  log,
		cfg:     cfg,
		model:   vehicleModel,
		session: session,
	}
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)

	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.cfg.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			if err := os.MkdirAll(filepath.Dir(m.cfg.BackupPath), 0755); err != nil {
				return fmt.Errorf("error creating backup dir: %w", err)
			}
			file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %w", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.cfg.Org

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure bucket exists with 90 day retention
	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err != nil {
		m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, m.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 90, // 90 days
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
			return err
		}
	}

	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)

	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.Writer.Errors())

	m.Logger.Debug().Msg("InfluxDB writer initialized")
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// WriteTick writes one vehicle_tick point.
func (m *Manager) WriteTick(_ context.Context, r model.TickRecord) error {
	return m.WritePoint(TickPoint(m.model, m.session, r))
}

// WriteLap writes one vehicle_lap point.
func (m *Manager) WriteLap(_ context.Context, r model.LapRecord) error {
	return m.WritePoint(LapPoint(m.model, m.session, r))
}

// Close flushes pending points and releases the client or backup file.
func (m *Manager) Close() error {
	if m.IsValid {
		m.Writer.Flush()
		m.Client.Close()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
	}
	if m.Client != nil {
		m.Client.Close()
	}
	return errors.Join(errs...)
}

func tags(vehicleModel, session string) map[string]string {
	t := map[string]string{"model": vehicleModel}
	if session != "" {
		t["session"] = session
	}
	return t
}

// TickPoint converts a tick into a point. Reasons are not stored; the
// failure mode is kept as a tag so injected faults can be filtered.
func TickPoint(vehicleModel, session string, r model.TickRecord) *influxdb2_write.Point {
	t := tags(vehicleModel, session)
	if r.Failure != "" {
		t["failure"] = r.Failure
	}
	return influxdb2_write.NewPoint(TickMeasurement, t, map[string]any{
		"lap":            r.Lap,
		"tick":           r.Tick,
		"speed_kph":      r.SpeedKph,
		"accel_mps2":     r.AccelMps2,
		"distance_m":     r.DistanceM,
		"lat":            r.Lat,
		"lon":            r.Lon,
		"battery_soc":    r.BatterySOC,
		"brake_temp_c":   r.BrakeTemp,
		"brake_pad_frac": r.BrakePad,
		"tire_wear_frac": r.TireWear,
		"risk":           r.Risk,
	}, r.Timestamp)
}

// LapPoint converts a lap summary into a point.
func LapPoint(vehicleModel, session string, r model.LapRecord) *influxdb2_write.Point {
	return influxdb2_write.NewPoint(LapMeasurement, tags(vehicleModel, session), map[string]any{
		"lap":            r.Lap,
		"lap_time_sec":   r.Duration,
		"speed_mean":     r.SpeedMean,
		"speed_max":      r.SpeedMax,
		"brake_temp_max": r.BrakeTempMax,
		"soc_drop":       r.SOCDrop,
	}, r.Timestamp)
}
