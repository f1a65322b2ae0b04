// Package redisstate keeps the latest vehicle state in Redis and publishes
// every tick on a pub/sub channel.
package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/model"
)

// StateTTL is how long the state hash survives without updates.
const StateTTL = 30 * time.Second

// Store writes to one Redis database.
type Store struct {
	client  *redis.Client
	model   string
	session string
}

// New connects and pings Redis.
func New(ctx context.Context, cfg config.RedisConfig, vehicleModel, session string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MinIdleConns: 1,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client, model: vehicleModel, session: session}, nil
}

func StateKey(vehicleModel string) string {
	return fmt.Sprintf("vehicle:%s:state", vehicleModel)
}

func GeoKey() string {
	return "track:geo"
}

func TelemetryChannel(vehicleModel string) string {
	return fmt.Sprintf("vehicle:%s:telemetry", vehicleModel)
}

func LapsKey(vehicleModel string) string {
	return fmt.Sprintf("vehicle:%s:laps", vehicleModel)
}

// StateFields flattens a tick into the state hash.
func StateFields(vehicleModel string, r model.TickRecord) map[string]any {
	return map[string]any{
		"model":          vehicleModel,
		"lap":            r.Lap,
		"tick":           r.Tick,
		"lat":            r.Lat,
		"lon":            r.Lon,
		"speed_kph":      r.SpeedKph,
		"accel_mps2":     r.AccelMps2,
		"distance_m":     r.DistanceM,
		"battery_soc":    r.BatterySOC,
		"brake_temp_c":   r.BrakeTemp,
		"brake_pad_frac": r.BrakePad,
		"tire_wear_frac": r.TireWear,
		"risk":           r.Risk,
		"reasons":        strings.Join(r.Reasons, model.ReasonSeparator),
		"failure":        r.Failure,
		"timestamp":      r.Timestamp.Unix(),
	}
}

// WriteTick updates the state hash, the geo set and publishes the event in
// one pipeline.
func (s *Store) WriteTick(ctx context.Context, r model.TickRecord) error {
	payload, err := model.NewEvent(s.model, s.session, r).Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateKey := StateKey(s.model)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, stateKey, StateFields(s.model, r))
	pipe.Expire(ctx, stateKey, StateTTL)
	pipe.GeoAdd(ctx, GeoKey(), &redis.GeoLocation{
		Name:      s.model,
		Longitude: r.Lon,
		Latitude:  r.Lat,
	})
	pipe.Publish(ctx, TelemetryChannel(s.model), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// WriteLap appends the lap summary to the vehicle's lap list.
func (s *Store) WriteLap(ctx context.Context, r model.LapRecord) error {
	data, err := json.Marshal(LapEntry(r))
	if err != nil {
		return fmt.Errorf("failed to marshal lap: %w", err)
	}
	if err := s.client.RPush(ctx, LapsKey(s.model), data).Err(); err != nil {
		return fmt.Errorf("redis rpush lap failed: %w", err)
	}
	return nil
}

// LapEntry is the JSON object stored per lap.
func LapEntry(r model.LapRecord) map[string]any {
	return map[string]any{
		"lap":            r.Lap,
		"lap_time_sec":   r.Duration,
		"speed_mean":     r.SpeedMean,
		"speed_max":      r.SpeedMax,
		"brake_temp_max": r.BrakeTempMax,
		"soc_drop":       r.SOCDrop,
		"ts":             r.Timestamp.Format(time.RFC3339Nano),
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}
