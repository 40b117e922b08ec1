package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/strategos-sim/strategos/internal/event"
	"github.com/strategos-sim/strategos/internal/simerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "strategos.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAppend(t *testing.T, s *Store, id string, ts float64, typ event.Type, data string) *event.Event {
	t.Helper()
	evt := &event.Event{
		ID:        id,
		Timestamp: ts,
		Type:      typ,
		Data:      []byte(data),
		CreatedAt: time.Now(),
	}
	if err := s.AppendEvent(context.Background(), evt); err != nil {
		t.Fatalf("AppendEvent(%s): %v", id, err)
	}
	return evt
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := openTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

func TestAppendAssignsSequence(t *testing.T) {
	s := openTestStore(t)

	a := mustAppend(t, s, "ev-a", 1.0, event.TypeMarkerCreated, `{"label":"a"}`)
	b := mustAppend(t, s, "ev-b", 2.0, event.TypeMarkerCreated, `{"label":"b"}`)

	if a.Seq == 0 || b.Seq == 0 {
		t.Fatalf("sequences not assigned: %d, %d", a.Seq, b.Seq)
	}
	if b.Seq <= a.Seq {
		t.Fatalf("sequence not monotonic: a=%d b=%d", a.Seq, b.Seq)
	}
}

func TestAppendDuplicateIDLeavesLogUnchanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, "ev-dup", 1.0, event.TypeMarkerCreated, `{"label":"first"}`)

	err := s.AppendEvent(ctx, &event.Event{
		ID:        "ev-dup",
		Timestamp: 2.0,
		Type:      event.TypeMarkerCreated,
		Data:      []byte(`{"label":"second"}`),
		CreatedAt: time.Now(),
	})
	if !simerr.IsDuplicateEvent(err) {
		t.Fatalf("want DUPLICATE_EVENT, got %v", err)
	}

	n, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Fatalf("log length changed after rejected append: %d", n)
	}
}

func TestQueryEventsRangeAndTypeFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, "ev-1", 1.0, event.TypeEntityCreated, `{"entity_id":"u1","kind":"infantry"}`)
	mustAppend(t, s, "ev-2", 3.0, event.TypeEntityMoved, `{"entity_id":"u1","x":4.0}`)
	mustAppend(t, s, "ev-3", 6.0, event.TypeEntityCreated, `{"entity_id":"u2","kind":"cavalry"}`)
	mustAppend(t, s, "ev-4", 5.0, event.TypeMarkerCreated, `{"label":"halt"}`)

	got, err := s.QueryEvents(ctx, 0, 5.0, string(event.TypeEntityCreated))
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ev-1" {
		t.Fatalf("want only ev-1, got %+v", got)
	}

	all, err := s.QueryEvents(ctx, 0, 5.0)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("want 3 events in [0,5], got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp < all[i-1].Timestamp {
			t.Fatalf("results not ordered by timestamp: %+v", all)
		}
	}
}

func TestQuerySameTimestampOrdersBySeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := mustAppend(t, s, "ev-t1", 2.0, event.TypeMarkerCreated, `{"label":"first"}`)
	second := mustAppend(t, s, "ev-t2", 2.0, event.TypeMarkerCreated, `{"label":"second"}`)

	got, err := s.QueryEvents(ctx, 2.0, 2.0)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 events, got %d", len(got))
	}
	if got[0].Seq != first.Seq || got[1].Seq != second.Seq {
		t.Fatalf("ties not broken by insertion sequence: %+v", got)
	}
}

func TestCursorPagesThroughLargeRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	total := pageSize*2 + 17
	for i := 0; i < total; i++ {
		mustAppend(t, s, fmt.Sprintf("ev-%04d", i), float64(i), event.TypeMarkerCreated, `{"label":"m"}`)
	}

	cur := s.Events(EventQuery{From: 0})
	var seen int
	var prevTs float64 = -1
	for {
		evt, ok, err := cur.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if evt.Timestamp < prevTs {
			t.Fatalf("out of order at %d: %v < %v", seen, evt.Timestamp, prevTs)
		}
		prevTs = evt.Timestamp
		seen++
	}
	if seen != total {
		t.Fatalf("cursor delivered %d of %d events", seen, total)
	}

	cur.Reset()
	evt, ok, err := cur.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next after Reset: ok=%v err=%v", ok, err)
	}
	if evt.ID != "ev-0000" {
		t.Fatalf("Reset did not rewind to start: got %s", evt.ID)
	}
}

func TestReplayAfterIsExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, "ev-1", 1.0, event.TypeMarkerCreated, `{"label":"a"}`)
	mustAppend(t, s, "ev-2", 5.0, event.TypeMarkerCreated, `{"label":"b"}`)
	mustAppend(t, s, "ev-3", 9.0, event.TypeMarkerCreated, `{"label":"c"}`)

	cur := s.ReplayAfter(5.0)
	evt, ok, err := cur.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if evt.ID != "ev-3" {
		t.Fatalf("replay included boundary event: got %s", evt.ID)
	}
	if _, ok, _ := cur.Next(ctx); ok {
		t.Fatal("replay returned events past the log end")
	}
}

func TestCountEventsThrough(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, "ev-1", 1.0, event.TypeMarkerCreated, `{"label":"a"}`)
	mustAppend(t, s, "ev-2", 5.0, event.TypeMarkerCreated, `{"label":"b"}`)
	mustAppend(t, s, "ev-3", 9.0, event.TypeMarkerCreated, `{"label":"c"}`)

	n, err := s.CountEventsThrough(ctx, 5.0)
	if err != nil {
		t.Fatalf("CountEventsThrough: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 events through t=5.0, got %d", n)
	}

	ts, ok, err := s.LatestTimestamp(ctx)
	if err != nil {
		t.Fatalf("LatestTimestamp: %v", err)
	}
	if !ok || ts != 9.0 {
		t.Fatalf("want latest 9.0, got %v (ok=%v)", ts, ok)
	}
}

func TestLatestTimestampEmptyLog(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.LatestTimestamp(context.Background())
	if err != nil {
		t.Fatalf("LatestTimestamp: %v", err)
	}
	if ok {
		t.Fatal("empty log reported a latest timestamp")
	}
}

func TestCheckpointSaveAndFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, ts := range []float64{2.0, 5.0, 8.0} {
		err := s.SaveCheckpoint(ctx, &Checkpoint{
			Timestamp:  ts,
			StateData:  []byte(fmt.Sprintf(`{"sim_time":%v}`, ts)),
			StateHash:  fmt.Sprintf("hash-%v", ts),
			EventCount: int64(ts),
			CreatedAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveCheckpoint(%v): %v", ts, err)
		}
	}

	cp, ok, err := s.FindCheckpointAtOrBefore(ctx, 6.5)
	if err != nil || !ok {
		t.Fatalf("FindCheckpointAtOrBefore: ok=%v err=%v", ok, err)
	}
	if cp.Timestamp != 5.0 {
		t.Fatalf("want nearest checkpoint at 5.0, got %v", cp.Timestamp)
	}

	cp, ok, err = s.FindCheckpointAtOrBefore(ctx, 5.0)
	if err != nil || !ok {
		t.Fatalf("FindCheckpointAtOrBefore exact: ok=%v err=%v", ok, err)
	}
	if cp.Timestamp != 5.0 {
		t.Fatalf("exact match not inclusive: got %v", cp.Timestamp)
	}

	if _, ok, err := s.FindCheckpointAtOrBefore(ctx, 1.0); err != nil || ok {
		t.Fatalf("want no checkpoint before 1.0, got ok=%v err=%v", ok, err)
	}

	latest, ok, err := s.LatestCheckpoint(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestCheckpoint: ok=%v err=%v", ok, err)
	}
	if latest.Timestamp != 8.0 {
		t.Fatalf("want latest 8.0, got %v", latest.Timestamp)
	}
}

func TestCheckpointSameTimestampLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, hash := range []string{"old", "new"} {
		err := s.SaveCheckpoint(ctx, &Checkpoint{
			Timestamp:  3.0,
			StateData:  []byte(`{}`),
			StateHash:  hash,
			EventCount: 1,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}

	cp, ok, err := s.FindCheckpointAtOrBefore(ctx, 3.0)
	if err != nil || !ok {
		t.Fatalf("FindCheckpointAtOrBefore: ok=%v err=%v", ok, err)
	}
	if cp.StateHash != "new" {
		t.Fatalf("want last write observed, got hash %q", cp.StateHash)
	}

	list, err := s.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("duplicate timestamps stored separately: %d rows", len(list))
	}
}

func TestPruneCheckpoints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		err := s.SaveCheckpoint(ctx, &Checkpoint{
			Timestamp:  float64(i),
			StateData:  []byte(`{}`),
			StateHash:  "h",
			EventCount: int64(i),
			CreatedAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}

	removed, err := s.PruneCheckpoints(ctx, 2)
	if err != nil {
		t.Fatalf("PruneCheckpoints: %v", err)
	}
	if removed != 3 {
		t.Fatalf("want 3 removed, got %d", removed)
	}

	list, err := s.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(list) != 2 || list[0].Timestamp != 4.0 || list[1].Timestamp != 5.0 {
		t.Fatalf("prune kept wrong checkpoints: %+v", list)
	}
}

func TestReopenPreservesLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategos.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAppend(t, s, "ev-1", 1.0, event.TypeMarkerCreated, `{"label":"persist"}`)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	n, err := s2.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Fatalf("log lost across reopen: %d events", n)
	}
}
