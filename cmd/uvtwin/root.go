package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/logging"
	intOtel "github.com/uvtwin/telemetry-sim/internal/otel"
	"go.opentelemetry.io/otel/attribute"
)

const defaultConfigPath = "configs/profile.json"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uvtwin",
		Short: "Vehicle telemetry digital twin",
		Long: `uvtwin drives a simulated vehicle around a circuit tick by tick.

Every tick is appended to CSV logs and, when configured, written to a
database, InfluxDB and Redis and published to MQTT, Kafka or a
WebSocket server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return config.LoadDotEnv(envFile)
		},
	}

	rootCmd.PersistentFlags().String("config", defaultConfigPath, "Vehicle profile (JSON)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level, overrides the profile (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file loaded before the profile")

	rootCmd.AddCommand(
		newRunCmd(),
		newAggregateCmd(),
		newTailCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// app holds what every command needs once the profile is loaded.
type app struct {
	cfg     *config.Config
	start   time.Time
	slogMgr *logging.SlogManager
	logger  *slog.Logger

	logFile  *os.File
	graylog  io.Closer
	provider *intOtel.Provider
}

// loadConfig reads the profile named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, nil
}

// newApp opens the session log file and builds the logger. ctxAttrs may be nil.
func newApp(ctx context.Context, cfg *config.Config, name string, ctxAttrs logging.ContextProvider) (*app, error) {
	a := &app{
		cfg:     cfg,
		start:   time.Now(),
		slogMgr: logging.NewSlogManager(),
	}

	logPath := logging.LogFilePath(cfg.LogsDir, name, a.start)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	a.logFile = f

	out := logging.Outputs{
		Console: os.Stdout,
		File:    f,
		Context: ctxAttrs,
	}

	var setupWarnings []any
	if cfg.Graylog.Enabled {
		w, err := logging.DialGraylog(cfg.Graylog.Address)
		if err != nil {
			setupWarnings = append(setupWarnings, "graylog", err)
		} else {
			a.graylog = w
			out.Graylog = w
		}
	}

	if cfg.OTel.Enabled {
		p, err := intOtel.New(ctx, cfg.OTel, f, attribute.String("vehicle.model", cfg.Model))
		if err != nil {
			setupWarnings = append(setupWarnings, "otel", err)
		} else {
			a.provider = p
			out.LogProvider = p.LoggerProvider()
		}
	}

	a.slogMgr.Setup(out, cfg.LogLevel)
	a.logger = a.slogMgr.Logger()
	slog.SetDefault(a.logger)

	a.logger.Info("Logging to file", "path", logPath)
	if len(setupWarnings) > 0 {
		a.logger.Warn("Optional log outputs disabled", setupWarnings...)
	}
	return a, nil
}

// close flushes and releases the log outputs.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.slogMgr.Flush(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flush logs:", err)
	}
	if a.provider != nil {
		if err := a.provider.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "shutdown otel:", err)
		}
	}
	if a.graylog != nil {
		a.graylog.Close()
	}
	a.logFile.Close()
}
