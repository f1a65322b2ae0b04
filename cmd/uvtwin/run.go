package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/monitor"
	"github.com/uvtwin/telemetry-sim/internal/sim"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation",
		Long: `Run the vehicle simulation until the lap count is reached, a resource
floor is breached or the process is interrupted.

Flags left unset keep the values from the profile.

Examples:
  uvtwin run --laps 3 --tick 0.1 --pace 0
  uvtwin run --failures --mqtt localhost:1883 --topic uvtwin/telemetry/EV-01`,
		RunE: runSimulation,
	}

	cmd.Flags().Int("laps", 0, "Laps to drive, 0 runs until interrupted")
	cmd.Flags().Float64("tick", 0, "Simulated seconds per tick")
	cmd.Flags().Float64("pace", 0, "Wall-clock seconds between ticks, 0 runs flat out")
	cmd.Flags().Int64("seed", 0, "Random seed, 0 picks one from the clock")
	cmd.Flags().Bool("failures", false, "Inject random sensor and component failures")
	cmd.Flags().String("mqtt", "", "MQTT broker host:port, enables live publishing")
	cmd.Flags().String("topic", "", "MQTT topic")
	cmd.Flags().String("out", "", "Directory for the CSV logs")
	cmd.Flags().String("origin", "", "Track origin as lat,lon")
	cmd.Flags().Bool("strict", false, "Abort on non-finite state values instead of clamping them")
	return cmd
}

// overridesFromFlags maps the flags the user actually set onto config.Overrides.
func overridesFromFlags(cmd *cobra.Command) (config.Overrides, error) {
	var o config.Overrides
	flags := cmd.Flags()

	if flags.Changed("laps") {
		v, _ := flags.GetInt("laps")
		o.Laps = &v
	}
	if flags.Changed("tick") {
		v, _ := flags.GetFloat64("tick")
		o.TickSec = &v
	}
	if flags.Changed("pace") {
		v, _ := flags.GetFloat64("pace")
		o.PaceSec = &v
	}
	if flags.Changed("seed") {
		v, _ := flags.GetInt64("seed")
		o.Seed = &v
	}
	if flags.Changed("failures") {
		v, _ := flags.GetBool("failures")
		o.Failures = &v
	}
	o.MQTTEndpoint, _ = flags.GetString("mqtt")
	o.MQTTTopic, _ = flags.GetString("topic")
	o.OutputDir, _ = flags.GetString("out")

	if origin, _ := flags.GetString("origin"); origin != "" {
		lat, lon, err := parseOrigin(origin)
		if err != nil {
			return o, err
		}
		o.OriginLat, o.OriginLon = &lat, &lon
	}
	return o, nil
}

func parseOrigin(s string) (lat, lon float64, err error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("%w: origin %q, want lat,lon", config.ErrInvalid, s)
	}
	if lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64); err != nil {
		return 0, 0, fmt.Errorf("%w: origin latitude: %v", config.ErrInvalid, err)
	}
	if lon, err = strconv.ParseFloat(strings.TrimSpace(lonStr), 64); err != nil {
		return 0, 0, fmt.Errorf("%w: origin longitude: %v", config.ErrInvalid, err)
	}
	return lat, lon, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	o, err := overridesFromFlags(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Apply(o); err != nil {
		return err
	}
	// fix the seed up front so every sink records the same one
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := &sim.Progress{Model: cfg.Model}
	a, err := newApp(ctx, cfg, "uvtwin", progress.Attrs)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := buildSinks(ctx, a, sessionID(a))
	if err != nil {
		return err
	}
	a.logger.Info("Sinks ready", "sinks", out.fanout.Names())

	strict, _ := cmd.Flags().GetBool("strict")
	s, err := sim.New(cfg, sim.Options{
		Sink:     out.fanout,
		Logger:   a.logger,
		Progress: progress,
		Strict:   strict,
	})
	if err != nil {
		out.fanout.Close()
		return err
	}

	status := monitor.NewService(monitor.Dependencies{
		Progress: progress,
		Path:     filepath.Join(cfg.Output.Dir, monitor.StatusFile),
		Logger:   a.logger,
		Gauges:   out.gauges,
	})
	if err := status.Start(); err != nil {
		a.logger.Warn("Status monitor disabled", "error", err)
	}

	res, runErr := s.Run(ctx)
	status.Stop()
	reason := string(res.Reason)
	if runErr != nil {
		reason = "error"
		a.logger.Error("Simulation aborted", "tick", res.Final.Tick, "error", runErr)
	}

	if err := out.finish(reason); err != nil {
		a.logger.Warn("Failed to record stop reason", "error", err)
	}
	if err := out.fanout.Close(); err != nil {
		a.logger.Warn("Failed to close sinks", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d laps, %d ticks, %.0f m, SOC %.1f%%, seed %d\n",
		reason, len(res.Laps), res.Ticks, res.Final.DistanceTotal, res.Final.BatterySOC, res.Seed)
	return nil
}
