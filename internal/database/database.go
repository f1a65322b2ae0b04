// Package database opens the gorm connection behind the SQL sink.
package database

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas tune a single-writer telemetry file.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
}

func gormConfig(batch int) *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        batch,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

// Connect opens the database named by cfg.Storage.Type. An unreachable
// postgres falls back to the SQLite file so the run is still recorded.
func Connect(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		return OpenSQLite(cfg.Storage.SQLite.Path)
	case "postgres":
		db, err := OpenPostgres(cfg.DB)
		if err != nil {
			log.Error("Postgres unavailable, recording to SQLite", "error", err, "path", cfg.Storage.SQLite.Path)
			return OpenSQLite(cfg.Storage.SQLite.Path)
		}
		return db, nil
	}
	return nil, fmt.Errorf("%w: storage type %q", config.ErrInvalid, cfg.Storage.Type)
}

// PostgresDSN renders c as a postgres URL with TLS disabled.
func PostgresDSN(c config.DBConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// OpenPostgres connects and pings the server.
func OpenPostgres(c config.DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(c),
		PreferSimpleProtocol: true,
	}), gormConfig(5000))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres %s: %w", net.JoinHostPort(c.Host, c.Port), err)
	}
	sqlDB.SetMaxOpenConns(4)
	return db, nil
}

// OpenSQLite opens the SQLite file at path, creating its directory. An empty
// path gives a private in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := "file::memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
		dsn = path
	}

	cfg := gormConfig(1000)
	cfg.PrepareStmt = true
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one connection keeps a memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)

	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// Migrate creates or updates the session, tick and lap tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
