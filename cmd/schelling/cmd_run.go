package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/talgya/econ-schelling/internal/engine"
	"github.com/talgya/econ-schelling/internal/persistence"
	"github.com/talgya/econ-schelling/internal/report"
)

// runSummary is the outcome of a headless run.
type runSummary struct {
	RunID     string            `json:"run_id,omitempty"`
	Seed      int64             `json:"seed"`
	Reason    engine.StopReason `json:"reason"`
	Ticks     uint64            `json:"ticks"`
	Agents    int               `json:"agents"`
	Happy     int               `json:"happy"`
	Relocated uint64            `json:"relocations"`
	Chart     string            `json:"chart,omitempty"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation headless until it converges or hits the tick cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if ticks, _ := cmd.Flags().GetUint64("ticks"); ticks > 0 {
				cfg.Engine.MaxTicks = ticks
			}
			if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
				cfg.Database.Path = dbPath
			}
			trace, _ := cmd.Flags().GetBool("trace")
			chartPath, _ := cmd.Flags().GetString("chart")
			jsonOut, _ := cmd.Flags().GetBool("json")

			params, err := cfg.Params()
			if err != nil {
				return err
			}
			sim, err := engine.NewSimulation(params)
			if err != nil {
				return fmt.Errorf("create simulation: %w", err)
			}

			// Headless runs ignore pacing.
			eng := engine.NewEngine(sim, engine.EngineConfig{Speed: 1, MaxTicks: cfg.Engine.MaxTicks})

			var (
				db    *persistence.DB
				runID uuid.UUID
			)
			if cfg.Database.Path != "" {
				db, err = persistence.Open(cfg.Database.Path)
				if err != nil {
					return err
				}
				defer db.Close()
				slog.Info("database opened", "path", cfg.Database.Path)

				runID, err = db.CreateRun(sim.Params())
				if err != nil {
					return err
				}
				eng.OnTick = db.Recorder(runID, trace)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
			defer stop()

			reason, runErr := eng.Run(ctx)
			if db != nil {
				if err := db.FinishRun(runID, eng.CurrentTick(), string(reason)); err != nil {
					slog.Error("failed to finish run record", "run", runID, "error", err)
				}
			}
			if runErr != nil {
				return runErr
			}

			summary := summarize(sim, reason)
			if runID != uuid.Nil {
				summary.RunID = runID.String()
			}
			if chartPath != "" {
				series := sim.Metrics().Series()
				switch err := report.SaveChart(chartPath, series, report.DefaultChartOptions()); {
				case errors.Is(err, report.ErrTooFewTicks):
					slog.Warn("chart skipped", "path", chartPath, "ticks", len(series))
				case err != nil:
					return err
				default:
					summary.Chart = chartPath
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(summary)
			}
			printSummary(cmd, summary)
			return nil
		},
	}

	cmd.Flags().Uint64("ticks", 0, "Maximum ticks to run (overrides config; 0 keeps it)")
	cmd.Flags().String("db", "", "SQLite file to record the run in")
	cmd.Flags().Bool("trace", false, "Record every agent's state each tick (with --db)")
	cmd.Flags().String("chart", "", "Write a PNG chart of the happy count to this path")
	return cmd
}

func summarize(sim *engine.Simulation, reason engine.StopReason) runSummary {
	return runSummary{
		Seed:      sim.Params().Seed,
		Reason:    reason,
		Ticks:     sim.Tick(),
		Agents:    sim.TotalAgentCount(),
		Happy:     sim.HappyCount(),
		Relocated: sim.Relocations(),
	}
}

func printSummary(cmd *cobra.Command, s runSummary) {
	out := cmd.OutOrStdout()
	switch s.Reason {
	case engine.StopConverged:
		fmt.Fprintf(out, "Converged after %s ticks: all %s agents happy.\n",
			humanize.Comma(int64(s.Ticks)), humanize.Comma(int64(s.Agents)))
	case engine.StopTickCap:
		fmt.Fprintf(out, "Tick cap reached after %s ticks: %s of %s agents happy.\n",
			humanize.Comma(int64(s.Ticks)), humanize.Comma(int64(s.Happy)), humanize.Comma(int64(s.Agents)))
	default:
		fmt.Fprintf(out, "Interrupted at tick %s: %s of %s agents happy.\n",
			humanize.Comma(int64(s.Ticks)), humanize.Comma(int64(s.Happy)), humanize.Comma(int64(s.Agents)))
	}
	fmt.Fprintf(out, "Seed %d, %s relocations in total.\n", s.Seed, humanize.Comma(int64(s.Relocated)))
	if s.RunID != "" {
		fmt.Fprintf(out, "Recorded as run %s.\n", s.RunID)
	}
	if s.Chart != "" {
		fmt.Fprintf(out, "Chart written to %s.\n", s.Chart)
	}
}
