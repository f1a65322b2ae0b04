package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/uvtwin/telemetry-sim/internal/aggregate"
	"github.com/uvtwin/telemetry-sim/internal/storage/csvlog"
)

func newAggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Summarise the tick history into per-lap features",
		Long: `Read the tick history log and write one row of features per lap,
including an efficiency score relative to the other laps.

Laps with fewer than --min-ticks rows are skipped. Defaults come from the
profile's output directory and min_ticks_per_lap.`,
		RunE: runAggregate,
	}
	cmd.Flags().String("history", "", "Tick history CSV (default <output.dir>/"+csvlog.HistoryFile+")")
	cmd.Flags().String("out", "", "Feature CSV to write (default <output.dir>/"+aggregate.OutputFile+")")
	cmd.Flags().Int("min-ticks", 0, "Minimum rows for a lap to be kept")
	return cmd
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, "uvtwin-aggregate", nil)
	if err != nil {
		return err
	}
	defer a.close()

	historyPath, _ := cmd.Flags().GetString("history")
	if historyPath == "" {
		historyPath = filepath.Join(cfg.Output.Dir, csvlog.HistoryFile)
	}
	outPath, _ := cmd.Flags().GetString("out")
	if outPath == "" {
		outPath = filepath.Join(cfg.Output.Dir, aggregate.OutputFile)
	}
	minTicks := cfg.MinTicksPerLap
	if cmd.Flags().Changed("min-ticks") {
		minTicks, _ = cmd.Flags().GetInt("min-ticks")
	}

	recs, err := aggregate.ReadHistoryFile(historyPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", historyPath, err)
	}
	laps := aggregate.Laps(recs, minTicks, cfg.TickSec)
	if len(laps) == 0 {
		return fmt.Errorf("%s: %w (min %d ticks)", historyPath, aggregate.ErrNoLaps, minTicks)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	if err := aggregate.WriteCSV(f, laps); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	a.logger.Info("Aggregated laps", "history", historyPath, "rows", len(recs), "laps", len(laps), "out", outPath)
	return nil
}
