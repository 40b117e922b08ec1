package sim

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/strategos-sim/strategos/internal/canonical"
	"github.com/strategos-sim/strategos/internal/clock"
	"github.com/strategos-sim/strategos/internal/event"
	"github.com/strategos-sim/strategos/internal/simerr"
	"github.com/strategos-sim/strategos/internal/state"
	"github.com/strategos-sim/strategos/internal/store"
)

// Default checkpoint cadence: a snapshot every N committed events or
// every T simulated seconds, whichever comes first.
const (
	DefaultCheckpointEveryEvents = 100
	DefaultCheckpointEverySim    = 60.0
)

// Simulation owns the projected world state, the simulation clock, and
// the backing log. It exposes every control operation (start, stop,
// pause, resume, scale, emit, tick, seek) and drives checkpoint
// creation and subscriber notification.
//
// Thread-safety model:
//   - all mutations run inside one mutex, so append order, apply order,
//     and causal order coincide
//   - Status() takes the mutex briefly and copies
//   - subscriber queues are drained outside the critical section
//   - Subscribe()/Unsubscribe() are safe from any goroutine
//
// A seek holds the same mutex for its whole restore-and-replay, so tick
// and emit can never observe a half-rebuilt world.
type Simulation struct {
	mu    sync.Mutex
	id    string
	store *store.Store
	clock *clock.Clock
	world *state.World
	gen   IDGenerator
	wall  WallClock

	handlers *Registry
	subs     *subscriberSet
	schedule schedule

	cpEveryEvents int
	cpEverySim    float64
	sinceCPEvents int
	lastCPSim     float64
	hasCP         bool
}

// Option configures a Simulation at construction.
type Option func(*Simulation)

// WithIDGenerator replaces the UUIDv7 event ID source.
// Tests use NewFixedIDGenerator for reproducible logs.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Simulation) { s.gen = g }
}

// WithHandlers installs the registry of post-commit event handlers.
func WithHandlers(r *Registry) Option {
	return func(s *Simulation) { s.handlers = r }
}

// WithWallClock replaces the wall-clock source used for audit
// timestamps and the Run loop. Tests use testutil.ManualWallClock.
func WithWallClock(wc WallClock) Option {
	return func(s *Simulation) { s.wall = wc }
}

// WithCheckpointEveryEvents sets the event-count checkpoint cadence.
// n <= 0 disables the event-count trigger.
func WithCheckpointEveryEvents(n int) Option {
	return func(s *Simulation) { s.cpEveryEvents = n }
}

// WithCheckpointEverySim sets the simulated-seconds checkpoint cadence.
// t <= 0 disables the simulated-time trigger.
func WithCheckpointEverySim(t float64) Option {
	return func(s *Simulation) { s.cpEverySim = t }
}

// New builds a Simulation over the given store with the given time
// scale. If the store already holds events, state is recovered from the
// latest checkpoint plus a tail replay; the clock resumes at the
// recovered simulated time, stopped.
func New(ctx context.Context, st *store.Store, timeScale float64, opts ...Option) (*Simulation, error) {
	clk, err := clock.New(timeScale)
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		id:            uuid.Must(uuid.NewV7()).String(),
		store:         st,
		clock:         clk,
		world:         state.New(),
		gen:           UUIDv7Generator{},
		wall:          systemWallClock{},
		handlers:      NewRegistry(),
		subs:          newSubscriberSet(),
		cpEveryEvents: DefaultCheckpointEveryEvents,
		cpEverySim:    DefaultCheckpointEverySim,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.recover(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// recover rebuilds projected state from the latest checkpoint plus the
// events appended after it. With no checkpoint, the full log is replayed
// from genesis.
func (s *Simulation) recover(ctx context.Context) error {
	world := state.New()
	var cur *store.Cursor

	cp, ok, err := s.store.LatestCheckpoint(ctx)
	if err != nil {
		return simerr.Wrap(simerr.CodePersistence, err, "load latest checkpoint")
	}
	if ok {
		restored, err := s.verifiedRestore(ctx, cp)
		if err != nil {
			return err
		}
		world = restored
		cur = s.store.ReplayAfter(cp.Timestamp)
		s.lastCPSim = cp.Timestamp
		s.hasCP = true
	} else {
		cur = s.store.Events(store.EventQuery{From: 0})
	}

	var replayed int64
	for {
		evt, more, err := cur.Next(ctx)
		if err != nil {
			return simerr.Wrap(simerr.CodePersistence, err, "replay log tail")
		}
		if !more {
			break
		}
		world.Apply(evt)
		replayed++
	}

	s.world = world
	// The latest checkpoint may be stamped past the last event when the
	// clock had advanced without emissions; resume from the later of
	// the two so restarting does not rewind simulated time.
	resumeAt := world.SimTime
	if ok && cp.Timestamp > resumeAt {
		resumeAt = cp.Timestamp
	}
	s.clock.SetTime(resumeAt)

	if world.EventCount > 0 {
		slog.Info("state recovered",
			"sim_time", world.SimTime,
			"event_count", world.EventCount,
			"replayed", replayed,
			"from_checkpoint", ok,
		)
	}
	return nil
}

// verifiedRestore decodes a checkpoint after confirming both integrity
// properties: the snapshot bytes still hash to the recorded StateHash,
// and the log still contains exactly EventCount events at or before the
// checkpoint timestamp.
func (s *Simulation) verifiedRestore(ctx context.Context, cp *store.Checkpoint) (*state.World, error) {
	if got := canonical.Hash(canonical.DomainState, cp.StateData); got != cp.StateHash {
		return nil, simerr.New(simerr.CodeReplayIntegrity,
			"checkpoint at %v: state hash mismatch (recorded %s, computed %s)",
			cp.Timestamp, cp.StateHash, got)
	}
	n, err := s.store.CountEventsThrough(ctx, cp.Timestamp)
	if err != nil {
		return nil, simerr.Wrap(simerr.CodePersistence, err, "verify checkpoint at %v", cp.Timestamp)
	}
	if n != cp.EventCount {
		return nil, simerr.New(simerr.CodeReplayIntegrity,
			"checkpoint at %v: recorded event_count %d but log holds %d events through that time",
			cp.Timestamp, cp.EventCount, n)
	}
	world, err := state.Decode(cp.StateData)
	if err != nil {
		return nil, simerr.Wrap(simerr.CodeReplayIntegrity, err, "decode checkpoint at %v", cp.Timestamp)
	}
	return world, nil
}

// EmitOption attaches optional metadata to an emitted event.
type EmitOption func(*event.Event)

// CausedBy records the event that triggered this one.
func CausedBy(eventID string) EmitOption {
	return func(e *event.Event) { e.CausationID = eventID }
}

// CorrelatedBy groups this event with related events under one key.
func CorrelatedBy(key string) EmitOption {
	return func(e *event.Event) { e.CorrelationID = key }
}

// EmitEvent appends an event stamped with the current simulated time,
// applies it to projected state, and notifies subscribers. Emission
// requires a running or paused clock; emitting while stopped fails
// VALIDATION (events are rejected, never queued for later).
func (s *Simulation) EmitEvent(ctx context.Context, typ event.Type, payload map[string]any, opts ...EmitOption) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitLocked(ctx, typ, s.clock.Now(), payload, opts...)
}

// CreateMarker emits a marker.created annotation event. Markers are
// pure audit entries with no effect on projected state beyond counters.
func (s *Simulation) CreateMarker(ctx context.Context, label string) (event.Event, error) {
	if label == "" {
		return event.Event{}, simerr.New(simerr.CodeValidation, "marker label must not be empty")
	}
	return s.EmitEvent(ctx, event.TypeMarkerCreated, map[string]any{"label": label})
}

// emitLocked is the single committed-unit pipeline: validate, append,
// apply, checkpoint-on-cadence, dispatch handlers, publish to live
// subscribers. Apply never fails for a structurally valid event, so
// append success commits the unit. Publication happens inside the
// critical section so subscribers observe commit order; push is
// non-blocking (drop-oldest), so a slow consumer never holds the lock.
// Caller holds s.mu.
func (s *Simulation) emitLocked(ctx context.Context, typ event.Type, ts float64, payload map[string]any, opts ...EmitOption) (event.Event, error) {
	if s.clock.RunState() == clock.StateStopped {
		return event.Event{}, simerr.New(simerr.CodeValidation,
			"cannot emit %s: simulation is stopped", typ)
	}

	if payload == nil {
		payload = map[string]any{}
	}
	data, err := canonical.Marshal(payload)
	if err != nil {
		return event.Event{}, simerr.Wrap(simerr.CodeValidation, err, "encode %s payload", typ)
	}
	if err := event.ValidatePayload(typ, data); err != nil {
		return event.Event{}, err
	}

	evt := event.Event{
		ID:        s.gen.NewID(),
		Timestamp: ts,
		Type:      typ,
		Data:      data,
		CreatedAt: s.wall.Now(),
	}
	for _, opt := range opts {
		opt(&evt)
	}

	if err := s.store.AppendEvent(ctx, &evt); err != nil {
		return event.Event{}, err
	}

	s.world.Apply(evt)
	s.sinceCPEvents++

	slog.Debug("event committed",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"timestamp", evt.Timestamp,
		"seq", evt.Seq,
	)

	s.maybeCheckpointLocked(ctx)
	s.handlers.dispatch(evt)
	s.subs.publish(evt)

	return evt, nil
}

// Start transitions the clock stopped -> running and records
// simulation.started in the log.
func (s *Simulation) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.clock.Start(); err != nil {
		return err
	}
	_, err := s.emitLocked(ctx, event.TypeSimulationStarted, s.clock.Now(), map[string]any{
		"time_scale": s.clock.Scale(),
	})
	return err
}

// Pause freezes simulated time and records simulation.paused.
func (s *Simulation) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.clock.Pause(); err != nil {
		return err
	}
	now := s.clock.Now()
	_, err := s.emitLocked(ctx, event.TypeSimulationPaused, now, map[string]any{
		"paused_at": now,
	})
	return err
}

// Resume unfreezes simulated time and records simulation.resumed.
func (s *Simulation) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.clock.Resume(); err != nil {
		return err
	}
	_, err := s.emitLocked(ctx, event.TypeSimulationResumed, s.clock.Now(), nil)
	return err
}

// Stop halts the clock from any state. Nothing is recorded in the log:
// emission requires a non-stopped clock, and a stop marker would
// violate that rule for its own event.
func (s *Simulation) Stop() {
	s.mu.Lock()
	s.clock.Stop()
	s.mu.Unlock()
}

// SetTimeScale changes the wall-to-simulated time ratio and records
// time.scaled with the old and new values.
func (s *Simulation) SetTimeScale(ctx context.Context, scale float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.clock.Scale()
	if err := s.clock.SetTimeScale(scale); err != nil {
		return err
	}
	_, err := s.emitLocked(ctx, event.TypeTimeScaled, s.clock.Now(), map[string]any{
		"old_scale": old,
		"new_scale": scale,
	})
	return err
}

// Tick advances simulated time by wallDelta * scale and fires any
// scheduled events that became due, each stamped with its own due time,
// in ascending (due, insertion) order. Returns the new simulated time.
func (s *Simulation) Tick(ctx context.Context, wallDelta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now, err := s.clock.Advance(wallDelta)
	if err != nil {
		return 0, err
	}

	if s.clock.RunState() == clock.StateRunning {
		for _, entry := range s.schedule.popDue(now) {
			if _, err := s.emitLocked(ctx, entry.typ, entry.due, entry.payload); err != nil {
				// Log and continue so one failed entry cannot wedge the
				// tick loop. The entry is consumed either way.
				slog.Error("scheduled event failed",
					"event_type", entry.typ,
					"due", entry.due,
					"error", err,
				)
			}
		}
	}
	return now, nil
}

// Seek rebuilds projected state at the target simulated time: restore
// the nearest checkpoint at or before it (or genesis when none exists),
// replay the events in between, and move the clock to the target.
//
// Seek is all-or-nothing. Replay runs against a scratch world that is
// swapped in only on success, so any failure (including a
// REPLAY_INTEGRITY checkpoint mismatch) leaves state and clock exactly
// as they were. Cost is proportional to events since the checkpoint,
// not total history.
func (s *Simulation) Seek(ctx context.Context, target float64) error {
	if target < 0 {
		return simerr.New(simerr.CodeSeekOutOfRange, "seek target %v is before genesis", target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	world := state.New()
	var cur *store.Cursor

	cp, ok, err := s.store.FindCheckpointAtOrBefore(ctx, target)
	if err != nil {
		return simerr.Wrap(simerr.CodePersistence, err, "find checkpoint for seek to %v", target)
	}
	if ok {
		restored, err := s.verifiedRestore(ctx, cp)
		if err != nil {
			return err
		}
		world = restored
		cur = s.store.Events(store.EventQuery{
			From: cp.Timestamp, FromExclusive: true,
			To: target, HasTo: true,
		})
	} else {
		cur = s.store.Events(store.EventQuery{From: 0, To: target, HasTo: true})
	}

	var replayed int64
	for {
		evt, more, err := cur.Next(ctx)
		if err != nil {
			return simerr.Wrap(simerr.CodePersistence, err, "replay events for seek to %v", target)
		}
		if !more {
			break
		}
		world.Apply(evt)
		replayed++
	}

	s.world = world
	s.clock.SetTime(target)
	s.schedule.dropThrough(target)
	s.sinceCPEvents = 0
	s.lastCPSim = target
	s.hasCP = ok && cp.Timestamp == target

	slog.Info("seek complete",
		"target", target,
		"from_checkpoint", ok,
		"replayed", replayed,
		"event_count", world.EventCount,
	)
	return nil
}

// Checkpoint snapshots current projected state immediately, regardless
// of cadence, and returns the stored record.
func (s *Simulation) Checkpoint(ctx context.Context) (*store.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointLocked(ctx)
}

func (s *Simulation) checkpointLocked(ctx context.Context) (*store.Checkpoint, error) {
	data, err := s.world.Encode()
	if err != nil {
		return nil, simerr.Wrap(simerr.CodePersistence, err, "encode state for checkpoint")
	}
	// The snapshot represents the current simulated instant, which may
	// sit past the last applied event's timestamp when the clock has
	// advanced without emissions. EventCount then still equals the
	// number of events at or before it, the restore integrity property.
	cp := &store.Checkpoint{
		Timestamp:  s.clock.Now(),
		StateData:  data,
		StateHash:  canonical.Hash(canonical.DomainState, data),
		EventCount: s.world.EventCount,
		CreatedAt:  s.wall.Now(),
	}
	if err := s.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	s.sinceCPEvents = 0
	s.lastCPSim = cp.Timestamp
	s.hasCP = true

	slog.Debug("checkpoint saved",
		"timestamp", cp.Timestamp,
		"event_count", cp.EventCount,
		"state_hash", cp.StateHash,
	)
	return cp, nil
}

// maybeCheckpointLocked applies the cadence policy after a commit. A
// failed cadence snapshot is logged and skipped; the committed event is
// already durable and the next trigger retries naturally.
//
// An event committed at or before the latest checkpoint's timestamp
// makes that checkpoint stale: its recorded event count no longer
// covers the log through its own timestamp. Paused emissions land at
// exactly the checkpointed instant, and scheduled events fire stamped
// with due times that can precede a snapshot taken mid-advance. The
// refresh re-saves at the current instant, replacing the stale
// snapshot and keeping the restore integrity check sound.
func (s *Simulation) maybeCheckpointLocked(ctx context.Context) {
	due := (s.cpEveryEvents > 0 && s.sinceCPEvents >= s.cpEveryEvents) ||
		(s.cpEverySim > 0 && s.world.SimTime-s.lastCPSim >= s.cpEverySim) ||
		(s.hasCP && s.world.SimTime <= s.lastCPSim)
	if !due {
		return
	}
	if _, err := s.checkpointLocked(ctx); err != nil {
		slog.Error("cadence checkpoint failed",
			"sim_time", s.world.SimTime,
			"error", err,
		)
	}
}

// Status is a read-only snapshot of the simulation, safe to request
// concurrently with everything else.
type Status struct {
	SimulationID string  `json:"simulation_id"`
	SimTime      float64 `json:"sim_time"`
	TimeScale    float64 `json:"time_scale"`
	RunState     string  `json:"run_state"`
	IsRunning    bool    `json:"is_running"`
	EventCount   int64   `json:"event_count"`
	EntityCount  int     `json:"entity_count"`
	Scheduled    int     `json:"scheduled"`
}

// Status returns a point-in-time copy of the simulation's run state.
func (s *Simulation) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.clock.Snapshot()
	return Status{
		SimulationID: s.id,
		SimTime:      snap.SimTime,
		TimeScale:    snap.Scale,
		RunState:     string(snap.State),
		IsRunning:    snap.State == clock.StateRunning,
		EventCount:   s.world.EventCount,
		EntityCount:  s.world.EntityCount(),
		Scheduled:    s.schedule.len(),
	}
}

// World returns a point-in-time canonical snapshot of projected state.
func (s *Simulation) World() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Encode()
}

// QueryEvents reads the closed range [from, to] from the log with an
// optional type filter. Reads bypass the mutation critical section.
func (s *Simulation) QueryEvents(ctx context.Context, from, to float64, types ...string) ([]event.Event, error) {
	return s.store.QueryEvents(ctx, from, to, types...)
}

// Subscribe registers a live event feed with the given queue depth
// (DefaultSubscriptionBuffer when buffer <= 0).
func (s *Simulation) Subscribe(buffer int) *Subscription {
	return s.subs.add(buffer)
}

// Unsubscribe cancels a subscription and closes its channel.
func (s *Simulation) Unsubscribe(sub *Subscription) {
	s.subs.remove(sub)
}

// Close stops the clock and closes all subscriber channels. The store
// is owned by the caller and stays open.
func (s *Simulation) Close() {
	s.Stop()
	s.subs.closeAll()
}
