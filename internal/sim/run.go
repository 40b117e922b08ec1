package sim

import (
	"context"
	"log/slog"
	"time"
)

// WallClock is the wall-time source for audit timestamps and the Run
// loop. Production uses the system clock; tests substitute a manually
// advanced clock for deterministic traces.
type WallClock interface {
	Now() time.Time
}

type systemWallClock struct{}

func (systemWallClock) Now() time.Time { return time.Now() }

// Run drives the simulation with a wall ticker until the context is
// cancelled. Each tick advances simulated time by the measured wall
// delta, so a delayed tick never loses simulated time.
//
// Tick failures are logged and the loop continues. Retrying a tick
// would re-fire its scheduled events, so there are no retries.
func (s *Simulation) Run(ctx context.Context, tickInterval time.Duration) error {
	if tickInterval <= 0 {
		tickInterval = 100 * time.Millisecond
	}
	slog.Info("simulation loop starting", "tick_interval", tickInterval)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	last := s.wall.Now()
	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation loop stopping: context cancelled")
			return ctx.Err()

		case <-ticker.C:
			now := s.wall.Now()
			delta := now.Sub(last).Seconds()
			last = now
			if _, err := s.Tick(ctx, delta); err != nil {
				slog.Error("tick failed", "wall_delta", delta, "error", err)
			}
		}
	}
}
