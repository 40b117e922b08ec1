package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/strategos-sim/strategos/internal/event"
	"github.com/strategos-sim/strategos/internal/simerr"
)

// pageSize bounds how many events a cursor loads per round-trip.
const pageSize = 200

// AppendEvent durably commits one event to the log and fills in its
// insertion sequence. Returns DUPLICATE_EVENT on an event_id collision
// and PERSISTENCE on any other write failure.
//
// Timestamp monotonicity across appends is guaranteed by the caller's
// single-writer discipline, not enforced here.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	if !evt.Type.IsValid() {
		return simerr.New(simerr.CodeValidation, "event type must not be empty")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(event_id, timestamp, event_type, data, causation_id, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		evt.ID,
		evt.Timestamp,
		string(evt.Type),
		string(evt.Data),
		nullable(evt.CausationID),
		nullable(evt.CorrelationID),
		evt.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return simerr.New(simerr.CodeDuplicateEvent, "event_id %s already present", evt.ID)
		}
		return simerr.Wrap(simerr.CodePersistence, err, "append event %s", evt.ID)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return simerr.Wrap(simerr.CodePersistence, err, "append event %s: insertion sequence", evt.ID)
	}
	evt.Seq = seq

	return nil
}

// EventQuery bounds a range scan over the log.
type EventQuery struct {
	// From is the lower timestamp bound, inclusive unless FromExclusive.
	From float64
	// FromExclusive makes the lower bound strict: (From, ...].
	FromExclusive bool
	// To is the upper timestamp bound (inclusive), honored when HasTo.
	To    float64
	HasTo bool
	// Types optionally restricts results to the given event types.
	Types []string
}

// Events returns a lazy, restartable cursor over the query range,
// ordered by (timestamp, seq) ascending. The cursor pages through the
// log so replay cost is proportional to the range scanned, never the
// buffer held in memory.
func (s *Store) Events(q EventQuery) *Cursor {
	return &Cursor{store: s, query: q}
}

// QueryEvents collects a closed range [from, to] with an optional type
// filter into a slice. Convenience for callers that want the whole range.
func (s *Store) QueryEvents(ctx context.Context, from, to float64, types ...string) ([]event.Event, error) {
	cur := s.Events(EventQuery{From: from, To: to, HasTo: true, Types: types})
	var out []event.Event
	for {
		evt, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, evt)
	}
}

// ReplayAfter returns a cursor over every event with timestamp strictly
// greater than ts, used to rebuild state on top of a checkpoint.
func (s *Store) ReplayAfter(ts float64) *Cursor {
	return s.Events(EventQuery{From: ts, FromExclusive: true})
}

// CountEvents returns the total number of events in the log.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CountEventsThrough returns the number of events with timestamp <= ts.
// Used to verify a checkpoint's recorded event count before restoring it.
func (s *Store) CountEventsThrough(ctx context.Context, ts float64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE timestamp <= ?
	`, ts).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events through %v: %w", ts, err)
	}
	return n, nil
}

// LatestTimestamp returns the simulated time of the most recent event.
// The second return is false for an empty log.
func (s *Store) LatestTimestamp(ctx context.Context) (float64, bool, error) {
	var ts sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM events`).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("latest timestamp: %w", err)
	}
	return ts.Float64, ts.Valid, nil
}

// Cursor is a lazy iterator over an event range. It is finite (bounded
// by the query), restartable via Reset, and loads events in pages.
// Not safe for concurrent use.
type Cursor struct {
	store *Store
	query EventQuery

	buf     []event.Event
	idx     int
	started bool
	done    bool
	lastTs  float64
	lastSeq int64
}

// Next returns the next event in (timestamp, seq) order.
// The second return is false once the range is exhausted.
func (c *Cursor) Next(ctx context.Context) (event.Event, bool, error) {
	if c.idx >= len(c.buf) {
		if c.done {
			return event.Event{}, false, nil
		}
		if err := c.fill(ctx); err != nil {
			return event.Event{}, false, err
		}
		if len(c.buf) == 0 {
			return event.Event{}, false, nil
		}
	}

	evt := c.buf[c.idx]
	c.idx++
	c.lastTs = evt.Timestamp
	c.lastSeq = evt.Seq
	c.started = true
	return evt, true, nil
}

// Reset rewinds the cursor to the start of its range. The next page is
// re-queried from storage, so a restarted cursor observes appends that
// landed inside the range in the meantime.
func (c *Cursor) Reset() {
	c.buf = nil
	c.idx = 0
	c.started = false
	c.done = false
	c.lastTs = 0
	c.lastSeq = 0
}

// fill loads the next page into the buffer.
func (c *Cursor) fill(ctx context.Context) error {
	var cond []string
	var args []any

	if c.started {
		// Progress strictly past the last event delivered.
		cond = append(cond, "(timestamp > ? OR (timestamp = ? AND seq > ?))")
		args = append(args, c.lastTs, c.lastTs, c.lastSeq)
	} else if c.query.FromExclusive {
		cond = append(cond, "timestamp > ?")
		args = append(args, c.query.From)
	} else {
		cond = append(cond, "timestamp >= ?")
		args = append(args, c.query.From)
	}

	if c.query.HasTo {
		cond = append(cond, "timestamp <= ?")
		args = append(args, c.query.To)
	}

	if len(c.query.Types) > 0 {
		placeholders := strings.Repeat("?,", len(c.query.Types))
		cond = append(cond, fmt.Sprintf("event_type IN (%s)", placeholders[:len(placeholders)-1]))
		for _, t := range c.query.Types {
			args = append(args, t)
		}
	}

	args = append(args, pageSize)
	rows, err := c.store.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT seq, event_id, timestamp, event_type, data, causation_id, correlation_id, created_at
		FROM events
		WHERE %s
		ORDER BY timestamp ASC, seq ASC
		LIMIT ?
	`, strings.Join(cond, " AND ")), args...)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	c.buf = c.buf[:0]
	c.idx = 0
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return err
		}
		c.buf = append(c.buf, evt)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}

	if len(c.buf) < pageSize {
		c.done = true
	}
	return nil
}

// scanEvent reads one event row.
func scanEvent(rows *sql.Rows) (event.Event, error) {
	var (
		evt           event.Event
		eventType     string
		data          string
		causationID   sql.NullString
		correlationID sql.NullString
		createdAt     string
	)
	if err := rows.Scan(&evt.Seq, &evt.ID, &evt.Timestamp, &eventType, &data, &causationID, &correlationID, &createdAt); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	evt.Type = event.Type(eventType)
	evt.Data = []byte(data)
	evt.CausationID = causationID.String
	evt.CorrelationID = correlationID.String

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return event.Event{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	evt.CreatedAt = t

	return evt, nil
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
