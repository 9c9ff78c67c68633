package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/econ-schelling/internal/api"
	"github.com/talgya/econ-schelling/internal/engine"
	"github.com/talgya/econ-schelling/internal/persistence"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the paced simulation behind the HTTP API",
		Long: `serve steps the simulation at the configured interval and speed while the
HTTP API exposes the grid, per-tick metrics and the recorded history.
The API stays up after the run stops until the process is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.API.Port = port
			}

			params, err := cfg.Params()
			if err != nil {
				return err
			}
			sim, err := engine.NewSimulation(params)
			if err != nil {
				return fmt.Errorf("create simulation: %w", err)
			}
			eng := engine.NewEngine(sim, cfg.EngineConfig())

			if cfg.API.AdminKey == "" {
				slog.Warn("SCHELLING_ADMIN_KEY not set, admin POST endpoints will be disabled")
			}
			heavy := api.NewRateLimiter(600, time.Minute)
			heavy.TrustProxies(cfg.API.TrustedProxies...)
			server := &api.Server{
				Eng:        eng,
				Port:       cfg.API.Port,
				AdminKey:   cfg.API.AdminKey,
				HeavyLimit: heavy,
			}

			if cfg.Database.Path != "" {
				db, err := persistence.Open(cfg.Database.Path)
				if err != nil {
					return err
				}
				defer db.Close()
				slog.Info("database opened", "path", cfg.Database.Path)

				runID, err := db.CreateRun(sim.Params())
				if err != nil {
					return err
				}
				server.DB, server.RunID = db, runID
				eng.OnTick = db.Recorder(runID, false)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
			defer stop()

			server.Start()
			fmt.Fprintf(cmd.OutOrStdout(), "API: http://localhost:%d/api/v1/status\n", cfg.API.Port)

			reason, runErr := eng.Run(ctx)
			if server.DB != nil {
				if err := server.DB.FinishRun(server.RunID, eng.CurrentTick(), string(reason)); err != nil {
					slog.Error("failed to finish run record", "run", server.RunID, "error", err)
				}
			}
			if runErr != nil {
				slog.Error("simulation stopped with error", "error", runErr)
			}

			// Keep serving the final state until interrupted.
			<-ctx.Done()
			slog.Info("shutting down", "tick", eng.CurrentTick())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return runErr
		},
	}

	cmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	return cmd
}
