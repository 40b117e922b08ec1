// Package harness runs scripted simulation scenarios and compares the
// committed event trace against golden files.
//
// Scenarios exercise the whole stack end to end: the real orchestrator,
// the real SQLite store (in-memory for isolation), and the real apply
// path. Determinism comes from a sequential ID generator and a frozen
// manual wall clock, so a scenario's trace is byte-stable across runs
// and machines.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/strategos-sim/strategos/internal/canonical"
	"github.com/strategos-sim/strategos/internal/event"
	"github.com/strategos-sim/strategos/internal/sim"
	"github.com/strategos-sim/strategos/internal/state"
	"github.com/strategos-sim/strategos/internal/store"
	"github.com/strategos-sim/strategos/internal/testutil"
)

// TraceEvent is one committed event as it appears in a trace snapshot.
// Wall-clock audit fields are excluded; they are not deterministic
// content, only the simulated timeline is.
type TraceEvent struct {
	EventID   string
	Timestamp float64
	Type      string
	Data      string
}

// Result holds the outcome of a scenario run.
type Result struct {
	// Trace lists every committed event in commit order, including
	// events discarded from projected state by a later seek.
	Trace []TraceEvent

	// Final state after all steps.
	SimTime    float64
	RunState   string
	EventCount int64
	StateHash  string

	// Failures lists assertion violations. Empty means the scenario passed.
	Failures []string
}

// Passed reports whether every assertion held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// seqIDGenerator hands out ev-000001, ev-000002, ... so traces are
// reproducible without a fixed list sized to the scenario.
type seqIDGenerator struct{ n int }

func (g *seqIDGenerator) NewID() string {
	g.n++
	return fmt.Sprintf("ev-%06d", g.n)
}

// Run executes a scenario against a fresh in-memory database and
// evaluates its assertions. Execution errors (a step the simulation
// rejects) abort the run; assertion failures are collected in the
// Result instead.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	scale := scenario.TimeScale
	if scale == 0 {
		scale = 1.0
	}

	ctx := context.Background()
	handlers := sim.NewRegistry()
	result := &Result{}
	handlers.OnAny(func(evt event.Event) {
		result.Trace = append(result.Trace, TraceEvent{
			EventID:   evt.ID,
			Timestamp: evt.Timestamp,
			Type:      string(evt.Type),
			Data:      string(evt.Data),
		})
	})

	s, err := sim.New(ctx, st, scale,
		sim.WithIDGenerator(&seqIDGenerator{}),
		sim.WithWallClock(testutil.NewManualWallClock(time.Unix(0, 0).UTC())),
		sim.WithHandlers(handlers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize simulation: %w", err)
	}
	defer s.Close()

	for i, step := range scenario.Steps {
		if err := executeStep(ctx, s, step); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	if err := captureFinal(ctx, s, result); err != nil {
		return nil, err
	}
	evaluateAssertions(ctx, s, st, scenario.Assertions, result)
	return result, nil
}

func executeStep(ctx context.Context, s *sim.Simulation, step Step) error {
	switch step.Op {
	case OpStart:
		return s.Start(ctx)
	case OpStop:
		s.Stop()
		return nil
	case OpPause:
		return s.Pause(ctx)
	case OpResume:
		return s.Resume(ctx)
	case OpTick:
		_, err := s.Tick(ctx, step.WallDelta)
		return err
	case OpEmit:
		_, err := s.EmitEvent(ctx, event.Type(step.Type), step.Data)
		return err
	case OpMarker:
		_, err := s.CreateMarker(ctx, step.Label)
		return err
	case OpCheckpoint:
		_, err := s.Checkpoint(ctx)
		return err
	case OpSeek:
		return s.Seek(ctx, step.Target)
	case OpSetScale:
		return s.SetTimeScale(ctx, step.Scale)
	case OpSchedule:
		return s.ScheduleAt(step.At, event.Type(step.Type), step.Data)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func captureFinal(ctx context.Context, s *sim.Simulation, result *Result) error {
	status := s.Status()
	result.SimTime = status.SimTime
	result.RunState = status.RunState
	result.EventCount = status.EventCount

	stateBytes, err := s.World()
	if err != nil {
		return fmt.Errorf("encode final state: %w", err)
	}
	result.StateHash = canonical.Hash(canonical.DomainState, stateBytes)
	return nil
}

func evaluateAssertions(ctx context.Context, s *sim.Simulation, st *store.Store, assertions []Assertion, result *Result) {
	for i, a := range assertions {
		if msg := checkAssertion(ctx, s, st, a, result); msg != "" {
			result.Failures = append(result.Failures, fmt.Sprintf("assertions[%d] %s: %s", i, a.Type, msg))
		}
	}
}

func checkAssertion(ctx context.Context, s *sim.Simulation, st *store.Store, a Assertion, result *Result) string {
	switch a.Type {
	case AssertSimTime:
		if result.SimTime != a.Time {
			return fmt.Sprintf("sim time is %g, want %g", result.SimTime, a.Time)
		}
	case AssertEventCount:
		if result.EventCount != a.Count {
			return fmt.Sprintf("event count is %d, want %d", result.EventCount, a.Count)
		}
	case AssertRunState:
		if result.RunState != a.State {
			return fmt.Sprintf("run state is %q, want %q", result.RunState, a.State)
		}
	case AssertTypeCount:
		stateBytes, err := s.World()
		if err != nil {
			return fmt.Sprintf("encode state: %v", err)
		}
		world, err := state.Decode(stateBytes)
		if err != nil {
			return fmt.Sprintf("decode state: %v", err)
		}
		if got := world.TypeCounts[a.EventType]; got != a.Count {
			return fmt.Sprintf("%s count is %d, want %d", a.EventType, got, a.Count)
		}
	case AssertReplayMatches:
		if msg := checkReplayMatches(ctx, s, st, result); msg != "" {
			return msg
		}
	}
	return ""
}

// checkReplayMatches rebuilds the world from genesis up to the live
// simulated time and compares hashes with the live state. This is the
// determinism property: two paths to the same instant, identical bytes.
func checkReplayMatches(ctx context.Context, s *sim.Simulation, st *store.Store, result *Result) string {
	world := state.New()
	cur := st.Events(store.EventQuery{From: 0, To: result.SimTime, HasTo: true})
	for {
		evt, ok, err := cur.Next(ctx)
		if err != nil {
			return fmt.Sprintf("read log: %v", err)
		}
		if !ok {
			break
		}
		world.Apply(evt)
	}
	rebuilt, err := world.Encode()
	if err != nil {
		return fmt.Sprintf("encode rebuilt state: %v", err)
	}
	if got := canonical.Hash(canonical.DomainState, rebuilt); got != result.StateHash {
		return fmt.Sprintf("rebuilt state hash %s differs from live %s", got, result.StateHash)
	}
	return ""
}
