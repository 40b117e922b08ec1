package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strategos-sim/strategos/internal/config"
	"github.com/strategos-sim/strategos/internal/sim"
	"github.com/strategos-sim/strategos/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	ConfigPath string
	TimeScale  float64

	// IDGenerator allows overriding the event ID source (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator sim.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the simulation loop",
		Long: `Start the simulation engine and drive it with a wall-clock ticker.

State is recovered from the database (latest checkpoint plus tail replay)
before the clock starts. The loop runs until interrupted; on graceful
shutdown a final checkpoint is taken so the next run recovers instantly.

Example:
  strategos run --db ./war.db
  strategos run --config ./strategos.yaml --time-scale 10`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().Float64Var(&opts.TimeScale, "time-scale", 0, "initial time scale (overrides config)")

	return cmd
}

func runSimulation(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadRunConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	configureLogging(cfg.LogLevel, opts.Verbose)

	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	simOpts := []sim.Option{
		sim.WithCheckpointEveryEvents(cfg.CheckpointEveryEvents),
		sim.WithCheckpointEverySim(cfg.CheckpointEverySim),
	}
	if opts.IDGenerator != nil {
		simOpts = append(simOpts, sim.WithIDGenerator(opts.IDGenerator))
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := sim.New(ctx, st, cfg.TimeScale, simOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize simulation", err)
	}
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start simulation", err)
	}

	status := s.Status()
	slog.Info("simulation started",
		"simulation_id", status.SimulationID,
		"sim_time", status.SimTime,
		"time_scale", status.TimeScale,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Simulation running. Press Ctrl-C to stop.")

	err = s.Run(ctx, cfg.TickInterval)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "simulation loop error", err)
	}

	return shutdown(s, st, cfg)
}

// shutdown takes a final snapshot and prunes old ones so the next run
// recovers without replaying the whole tail.
func shutdown(s *sim.Simulation, st *store.Store, cfg config.Config) error {
	ctx := context.Background()

	if cp, err := s.Checkpoint(ctx); err != nil {
		slog.Error("shutdown checkpoint failed", "error", err)
	} else {
		slog.Info("shutdown checkpoint saved", "timestamp", cp.Timestamp, "event_count", cp.EventCount)
	}
	s.Stop()

	if cfg.KeepCheckpoints > 0 {
		removed, err := st.PruneCheckpoints(ctx, cfg.KeepCheckpoints)
		if err != nil {
			slog.Error("checkpoint pruning failed", "error", err)
		} else if removed > 0 {
			slog.Info("old checkpoints pruned", "removed", removed, "kept", cfg.KeepCheckpoints)
		}
	}

	slog.Info("simulation stopped gracefully")
	return nil
}

// loadRunConfig merges the config file (or defaults) with flag overrides.
func loadRunConfig(opts *RunOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}
	if opts.TimeScale > 0 {
		cfg.TimeScale = opts.TimeScale
	}
	return cfg, cfg.Validate()
}

// configureLogging installs the process-wide slog handler.
func configureLogging(level string, verbose bool) {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, parented
// to the command's context so tests can cancel directly.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
