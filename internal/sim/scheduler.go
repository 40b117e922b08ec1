package sim

import (
	"sort"

	"github.com/strategos-sim/strategos/internal/event"
	"github.com/strategos-sim/strategos/internal/simerr"
)

// scheduledEvent is a pending simulated-time-triggered emission.
type scheduledEvent struct {
	due     float64
	seq     int64
	typ     event.Type
	payload map[string]any
}

// schedule keeps pending entries sorted by (due, insertion sequence) so
// Tick fires them in deterministic order.
type schedule struct {
	entries []scheduledEvent
	nextSeq int64
}

func (sc *schedule) add(due float64, typ event.Type, payload map[string]any) {
	entry := scheduledEvent{due: due, seq: sc.nextSeq, typ: typ, payload: payload}
	sc.nextSeq++
	i := sort.Search(len(sc.entries), func(i int) bool {
		e := sc.entries[i]
		return e.due > due || (e.due == due && e.seq > entry.seq)
	})
	sc.entries = append(sc.entries, scheduledEvent{})
	copy(sc.entries[i+1:], sc.entries[i:])
	sc.entries[i] = entry
}

// popDue removes and returns every entry with due <= now, in order.
func (sc *schedule) popDue(now float64) []scheduledEvent {
	i := sort.Search(len(sc.entries), func(i int) bool {
		return sc.entries[i].due > now
	})
	if i == 0 {
		return nil
	}
	due := sc.entries[:i:i]
	sc.entries = sc.entries[i:]
	return due
}

// dropThrough discards entries with due <= target. Used after a seek so
// entries scheduled for what is now the past never fire.
func (sc *schedule) dropThrough(target float64) {
	i := sort.Search(len(sc.entries), func(i int) bool {
		return sc.entries[i].due > target
	})
	sc.entries = sc.entries[i:]
}

func (sc *schedule) len() int {
	return len(sc.entries)
}

// ScheduleAt queues an event for emission when simulated time reaches
// ts. The entry fires during the first Tick whose advance crosses ts,
// stamped with ts itself rather than the tick's end time. Scheduling in
// the simulated past fails VALIDATION.
func (s *Simulation) ScheduleAt(ts float64, typ event.Type, payload map[string]any) error {
	if !typ.IsValid() {
		return simerr.New(simerr.CodeValidation, "scheduled event type must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if now := s.clock.Now(); ts < now {
		return simerr.New(simerr.CodeValidation,
			"cannot schedule %s at %v: simulated time is already %v", typ, ts, now)
	}
	s.schedule.add(ts, typ, payload)
	return nil
}
