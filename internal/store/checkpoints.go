package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/strategos-sim/strategos/internal/simerr"
)

// Checkpoint is a full serialized snapshot of simulation state at a
// simulated timestamp. EventCount and StateHash let a restore verify
// the snapshot still matches the log before trusting it.
type Checkpoint struct {
	Timestamp  float64
	StateData  []byte
	StateHash  string
	EventCount int64
	CreatedAt  time.Time
}

// SaveCheckpoint durably writes a snapshot. Saves are atomic and keyed
// by timestamp; a second save at the same timestamp replaces the first,
// so readers observe either the old or the new snapshot, never a blend.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return simerr.Wrap(simerr.CodePersistence, err, "begin checkpoint save")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints
		(timestamp, state_data, state_hash, event_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		cp.Timestamp,
		cp.StateData,
		cp.StateHash,
		cp.EventCount,
		cp.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return simerr.Wrap(simerr.CodePersistence, err, "save checkpoint at %v", cp.Timestamp)
	}

	if err := tx.Commit(); err != nil {
		return simerr.Wrap(simerr.CodePersistence, err, "commit checkpoint at %v", cp.Timestamp)
	}
	return nil
}

// FindCheckpointAtOrBefore returns the nearest checkpoint with
// timestamp <= ts. The second return is false when none exists.
func (s *Store) FindCheckpointAtOrBefore(ctx context.Context, ts float64) (*Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, state_data, state_hash, event_count, created_at
		FROM checkpoints
		WHERE timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT 1
	`, ts)
	return scanCheckpoint(row)
}

// LatestCheckpoint returns the checkpoint with the highest timestamp.
func (s *Store) LatestCheckpoint(ctx context.Context) (*Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, state_data, state_hash, event_count, created_at
		FROM checkpoints
		ORDER BY timestamp DESC
		LIMIT 1
	`)
	return scanCheckpoint(row)
}

// ListCheckpoints returns every checkpoint ordered by timestamp ascending.
func (s *Store) ListCheckpoints(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, state_data, state_hash, event_count, created_at
		FROM checkpoints
		ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var (
			cp        Checkpoint
			createdAt string
		)
		if err := rows.Scan(&cp.Timestamp, &cp.StateData, &cp.StateHash, &cp.EventCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse checkpoint created_at %q: %w", createdAt, err)
		}
		cp.CreatedAt = t
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// PruneCheckpoints deletes all but the keep most recent checkpoints and
// returns how many were removed. keep <= 0 removes nothing.
func (s *Store) PruneCheckpoints(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE timestamp NOT IN (
			SELECT timestamp FROM checkpoints
			ORDER BY timestamp DESC
			LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, simerr.Wrap(simerr.CodePersistence, err, "prune checkpoints")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: rows affected: %w", err)
	}
	return n, nil
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, bool, error) {
	var (
		cp        Checkpoint
		createdAt string
	)
	err := row.Scan(&cp.Timestamp, &cp.StateData, &cp.StateHash, &cp.EventCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan checkpoint: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, false, fmt.Errorf("parse checkpoint created_at %q: %w", createdAt, err)
	}
	cp.CreatedAt = t
	return &cp, true, nil
}
