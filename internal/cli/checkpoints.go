package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strategos-sim/strategos/internal/store"
)

// CheckpointsOptions holds flags for the checkpoints command.
type CheckpointsOptions struct {
	*RootOptions
	Database string
	Prune    int
}

// checkpointRow is the per-checkpoint output record. Snapshot bytes are
// summarized by size and hash rather than dumped.
type checkpointRow struct {
	Timestamp  float64 `json:"timestamp"`
	EventCount int64   `json:"event_count"`
	StateBytes int     `json:"state_bytes"`
	StateHash  string  `json:"state_hash"`
	CreatedAt  string  `json:"created_at"`
}

// NewCheckpointsCommand creates the checkpoints command.
func NewCheckpointsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List stored state snapshots",
		Long: `List every checkpoint with its simulated timestamp, covered event
count, snapshot size, and content hash.

With --prune N, all but the N most recent checkpoints are deleted first.

Example:
  strategos checkpoints --db ./war.db
  strategos checkpoints --db ./war.db --prune 10 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoints(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Prune, "prune", 0, "keep only the N most recent checkpoints")

	return cmd
}

func runCheckpoints(opts *CheckpointsOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Prune > 0 {
		removed, err := st.PruneCheckpoints(ctx, opts.Prune)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to prune checkpoints", err)
		}
		if opts.Format != "json" && removed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d checkpoint(s).\n", removed)
		}
	}

	list, err := st.ListCheckpoints(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list checkpoints", err)
	}

	rows := make([]checkpointRow, 0, len(list))
	for _, cp := range list {
		rows = append(rows, checkpointRow{
			Timestamp:  cp.Timestamp,
			EventCount: cp.EventCount,
			StateBytes: len(cp.StateData),
			StateHash:  cp.StateHash,
			CreatedAt:  cp.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(rows)
	}

	w := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No checkpoints stored.")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(w, "t=%-10g events=%-8d %6d bytes  %s  %s\n",
			r.Timestamp, r.EventCount, r.StateBytes, r.StateHash[:12], r.CreatedAt)
	}
	fmt.Fprintf(w, "\n%d checkpoint(s)\n", len(rows))
	return nil
}
