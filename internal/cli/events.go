package cli

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/strategos-sim/strategos/internal/event"
	"github.com/strategos-sim/strategos/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Database string
	From     float64
	To       float64
	Types    []string
}

// eventRow is the per-event output record.
type eventRow struct {
	Seq           int64   `json:"seq"`
	EventID       string  `json:"event_id"`
	Timestamp     float64 `json:"timestamp"`
	EventType     string  `json:"event_type"`
	Data          string  `json:"data"`
	CausationID   string  `json:"causation_id,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the event log by time range and type",
		Long: `Query events in a closed simulated-time range, optionally filtered by type.

Results are ordered by (timestamp, seq) ascending, the replay order.

Example:
  strategos events --db ./war.db --from 0 --to 5.0
  strategos events --db ./war.db --type marker.created --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Float64Var(&opts.From, "from", 0, "range start (simulated seconds, inclusive)")
	cmd.Flags().Float64Var(&opts.To, "to", math.Inf(1), "range end (simulated seconds, inclusive)")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "event type filter (repeatable)")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	query := store.EventQuery{From: opts.From, Types: opts.Types}
	if !math.IsInf(opts.To, 1) {
		query.To, query.HasTo = opts.To, true
	}

	cur := st.Events(query)
	var rows []eventRow
	for {
		evt, ok, err := cur.Next(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to query events", err)
		}
		if !ok {
			break
		}
		rows = append(rows, toEventRow(evt))
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(rows)
	}
	return printEventsText(cmd, rows)
}

func toEventRow(evt event.Event) eventRow {
	return eventRow{
		Seq:           evt.Seq,
		EventID:       evt.ID,
		Timestamp:     evt.Timestamp,
		EventType:     string(evt.Type),
		Data:          string(evt.Data),
		CausationID:   evt.CausationID,
		CorrelationID: evt.CorrelationID,
	}
}

func printEventsText(cmd *cobra.Command, rows []eventRow) error {
	w := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No events in range.")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(w, "t=%-10g #%-6d %-24s %s\n", r.Timestamp, r.Seq, r.EventType, r.Data)
	}
	fmt.Fprintf(w, "\n%d event(s)\n", len(rows))
	return nil
}
