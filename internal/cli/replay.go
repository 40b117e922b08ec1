package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strategos-sim/strategos/internal/canonical"
	"github.com/strategos-sim/strategos/internal/state"
	"github.com/strategos-sim/strategos/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayResult holds the determinism audit outcome.
type ReplayResult struct {
	EventsReplayed int64   `json:"events_replayed"`
	FinalSimTime   float64 `json:"final_sim_time"`
	StateHash      string  `json:"state_hash"`

	CheckpointVerified bool    `json:"checkpoint_verified"`
	CheckpointTime     float64 `json:"checkpoint_time,omitempty"`
	CheckpointHash     string  `json:"checkpoint_hash,omitempty"`
	RebuiltHash        string  `json:"rebuilt_hash,omitempty"`
	Deterministic      bool    `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild state from genesis and verify determinism",
		Long: `Replay the full event log from the empty initial state and report the
resulting state hash.

When a checkpoint exists, the log is additionally replayed up to the
latest checkpoint's timestamp and the rebuilt state is compared against
the stored snapshot hash. A mismatch means the log and snapshot have
diverged (corruption or a non-deterministic apply path).

Exit codes:
  0 - Replay deterministic, checkpoint verified (or none stored)
  1 - Checkpoint hash mismatch
  2 - Command error (database not found, etc.)

Example:
  strategos replay --db ./war.db
  strategos replay --db ./war.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, err := replayAndVerify(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printReplayText(cmd, result)
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "checkpoint hash mismatch: log and snapshot have diverged")
	}
	return nil
}

// replayAndVerify rebuilds the world twice: once over the whole log,
// and once bounded to the latest checkpoint's timestamp for comparison
// against the stored snapshot.
func replayAndVerify(ctx context.Context, st *store.Store) (ReplayResult, error) {
	full, replayed, err := rebuild(ctx, st, st.Events(store.EventQuery{From: 0}))
	if err != nil {
		return ReplayResult{}, err
	}
	fullBytes, err := full.Encode()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("encode rebuilt state: %w", err)
	}

	result := ReplayResult{
		EventsReplayed: replayed,
		FinalSimTime:   full.SimTime,
		StateHash:      canonical.Hash(canonical.DomainState, fullBytes),
		Deterministic:  true,
	}

	cp, ok, err := st.LatestCheckpoint(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("load latest checkpoint: %w", err)
	}
	if !ok {
		return result, nil
	}

	bounded, _, err := rebuild(ctx, st, st.Events(store.EventQuery{
		From: 0, To: cp.Timestamp, HasTo: true,
	}))
	if err != nil {
		return ReplayResult{}, err
	}
	boundedBytes, err := bounded.Encode()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("encode bounded state: %w", err)
	}

	result.CheckpointVerified = true
	result.CheckpointTime = cp.Timestamp
	result.CheckpointHash = cp.StateHash
	result.RebuiltHash = canonical.Hash(canonical.DomainState, boundedBytes)
	result.Deterministic = result.RebuiltHash == cp.StateHash
	return result, nil
}

func rebuild(ctx context.Context, st *store.Store, cur *store.Cursor) (*state.World, int64, error) {
	world := state.New()
	var n int64
	for {
		evt, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("read event log: %w", err)
		}
		if !ok {
			return world, n, nil
		}
		world.Apply(evt)
		n++
	}
}

func printReplayText(cmd *cobra.Command, result ReplayResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Replayed %d event(s) to t=%g\n", result.EventsReplayed, result.FinalSimTime)
	fmt.Fprintf(w, "State hash: %s\n", result.StateHash)

	if !result.CheckpointVerified {
		fmt.Fprintln(w, "No checkpoints stored; nothing to verify against.")
		return
	}
	if result.Deterministic {
		fmt.Fprintf(w, "Checkpoint at t=%g verified: rebuilt state matches stored hash.\n", result.CheckpointTime)
		return
	}
	fmt.Fprintf(w, "Checkpoint at t=%g MISMATCH:\n  stored:  %s\n  rebuilt: %s\n",
		result.CheckpointTime, result.CheckpointHash, result.RebuiltHash)
}
