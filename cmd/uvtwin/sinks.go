package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/uvtwin/telemetry-sim/internal/database"
	"github.com/uvtwin/telemetry-sim/internal/influx"
	"github.com/uvtwin/telemetry-sim/internal/monitor"
	"github.com/uvtwin/telemetry-sim/internal/publish"
	"github.com/uvtwin/telemetry-sim/internal/publish/kafka"
	"github.com/uvtwin/telemetry-sim/internal/publish/mqtt"
	"github.com/uvtwin/telemetry-sim/internal/publish/websocket"
	"github.com/uvtwin/telemetry-sim/internal/sink"
	"github.com/uvtwin/telemetry-sim/internal/storage/csvlog"
	"github.com/uvtwin/telemetry-sim/internal/storage/gormdb"
	"github.com/uvtwin/telemetry-sim/internal/storage/redisstate"
)

// outputs is the fan-out handed to the simulator plus the database backend,
// which needs the stop reason once the run ends.
type outputs struct {
	fanout *sink.Fanout
	db     *gormdb.Backend
	ws     *websocket.Client
	gauges map[string]monitor.Gauge
}

// finish records the stop reason where a destination keeps one.
func (o *outputs) finish(reason string) error {
	if o.ws != nil {
		o.ws.SetStopReason(reason)
	}
	if o.db != nil {
		return o.db.Finish(reason)
	}
	return nil
}

// buildSinks opens every configured destination. The CSV logs are required;
// an optional destination that cannot be reached is logged and skipped.
func buildSinks(ctx context.Context, a *app, session string) (*outputs, error) {
	cfg := a.cfg
	logger := a.logger
	out := &outputs{
		fanout: sink.NewFanout(logger),
		gauges: map[string]monitor.Gauge{},
	}

	retry := func(name string, next sink.Sink) (sink.Sink, error) {
		r, err := sink.WithRetry(name, next, cfg.Retry.Attempts, cfg.Retry.Backoff, logger)
		if err != nil {
			return nil, err
		}
		out.gauges[name+"_dropped"] = func() any { return r.Dropped() }
		return r, nil
	}

	csvw, err := csvlog.Open(cfg.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("open csv logs: %w", err)
	}
	s, err := retry("csv", csvw)
	if err != nil {
		csvw.Close()
		return nil, err
	}
	out.fanout.Add("csv", s)
	logger.Info("CSV logs opened", "dir", csvw.Dir())

	if cfg.Storage.Type != "" && cfg.Storage.Type != "none" {
		if db, err := openDatabase(a); err != nil {
			logger.Error("Database sink disabled", "type", cfg.Storage.Type, "error", err)
		} else {
			out.db = db
			out.fanout.Add("gorm", db)
			out.gauges["gorm_pending"] = func() any { return db.Pending() }
			out.gauges["gorm_evicted"] = func() any { return db.Evicted() }
			logger.Info("Database sink initialized", "type", cfg.Storage.Type, "session", db.SessionID())
		}
	}

	if cfg.Redis.Enabled {
		if store, err := redisstate.New(ctx, cfg.Redis, cfg.Model, session); err != nil {
			logger.Warn("Redis sink disabled", "addr", cfg.Redis.Addr, "error", err)
		} else if s, err := retry("redis", store); err != nil {
			store.Close()
			return nil, err
		} else {
			out.fanout.Add("redis", s)
		}
	}

	if cfg.Influx.Enabled {
		zl := zerolog.New(a.logFile).With().Timestamp().Str("component", "influx").Logger()
		m := influx.NewManager(zl, cfg.Influx, cfg.Model, session)
		if err := m.Connect(ctx); err != nil {
			logger.Warn("InfluxDB sink disabled", "host", cfg.Influx.Host, "error", err)
		} else if s, err := retry("influx", m); err != nil {
			m.Close()
			return nil, err
		} else {
			out.fanout.Add("influx", s)
		}
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Dial(cfg.MQTT)
		if err != nil {
			logger.Warn("MQTT publishing disabled", "broker", cfg.MQTT.Endpoint(), "error", err)
		} else if err := addPublisher(out, a, "mqtt", client, session); err != nil {
			return nil, err
		} else {
			logger.Info("Publishing to MQTT", "broker", cfg.MQTT.Endpoint(), "topic", client.Topic())
		}
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.New(cfg.Kafka)
		if err != nil {
			logger.Warn("Kafka publishing disabled", "error", err)
		} else if err := addPublisher(out, a, "kafka", producer, session); err != nil {
			return nil, err
		} else {
			logger.Info("Publishing to Kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		}
	}

	if cfg.Websocket.Enabled {
		info := websocket.SessionInfo{Model: cfg.Model, Session: session, Seed: cfg.Seed, Start: a.start.UTC()}
		client, err := websocket.Dial(cfg.Websocket, info, logger)
		if err != nil {
			logger.Warn("WebSocket streaming disabled", "url", cfg.Websocket.URL, "error", err)
		} else if err := addPublisher(out, a, "websocket", client, session); err != nil {
			return nil, err
		} else {
			out.ws = client
			logger.Info("Streaming to WebSocket", "url", cfg.Websocket.URL)
		}
	}

	return out, nil
}

func addPublisher(out *outputs, a *app, name string, pub publish.Publisher, session string) error {
	be, err := publish.NewBestEffort(name, pub, a.cfg.Model, session, a.logger)
	if err != nil {
		pub.Close()
		return err
	}
	out.fanout.Add(name, be)
	out.gauges[name+"_circuit"] = func() any { return be.Breaker().State().String() }
	return nil
}

func openDatabase(a *app) (*gormdb.Backend, error) {
	db, err := database.Connect(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	b := gormdb.New(db, gormdb.Options{
		BatchSize: a.cfg.Storage.BatchSize,
		MaxQueued: a.cfg.Storage.MaxQueued,
		Attempts:  a.cfg.Retry.Attempts,
		Backoff:   a.cfg.Retry.Backoff,
	}, a.logger)
	if err := b.Init(a.cfg.Model, a.cfg.Seed, a.cfg); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("init database sink: %w", err)
	}
	return b, nil
}

// sessionID names a run in brokers, Redis and InfluxDB.
func sessionID(a *app) string {
	host, _ := os.Hostname()
	if host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%s", host, a.start.UTC().Format("20060102T150405Z"))
}
