package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strategos-sim/strategos/internal/simerr"
)

func TestRunCollectsTraceInCommitOrder(t *testing.T) {
	scenario := &Scenario{
		Name:        "basic-emit",
		Description: "two events on a running clock",
		Steps: []Step{
			{Op: OpStart},
			{Op: OpTick, WallDelta: 1.0},
			{Op: OpEmit, Type: "unit.created", Data: map[string]any{"unit": "a"}},
			{Op: OpTick, WallDelta: 1.5},
			{Op: OpEmit, Type: "unit.moved", Data: map[string]any{"unit": "a", "x": 3.0}},
		},
		Assertions: []Assertion{
			{Type: AssertSimTime, Time: 2.5},
			{Type: AssertEventCount, Count: 3},
			{Type: AssertRunState, State: "running"},
			{Type: AssertReplayMatches},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failures: %v", result.Failures)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "ev-000001", result.Trace[0].EventID)
	assert.Equal(t, "simulation.started", result.Trace[0].Type)
	assert.Equal(t, "ev-000002", result.Trace[1].EventID)
	assert.Equal(t, 1.0, result.Trace[1].Timestamp)
	assert.Equal(t, `{"unit":"a"}`, result.Trace[1].Data)
	assert.Equal(t, "ev-000003", result.Trace[2].EventID)
	assert.Equal(t, 2.5, result.Trace[2].Timestamp)
	assert.NotEmpty(t, result.StateHash)
}

func TestRunScheduledEventFiresAfterResume(t *testing.T) {
	scenario := &Scenario{
		Name:        "schedule-across-pause",
		Description: "a scheduled event holds while paused and fires at its due time",
		Steps: []Step{
			{Op: OpStart},
			{Op: OpSchedule, At: 2.0, Type: "unit.spawned", Data: map[string]any{"unit": "c"}},
			{Op: OpTick, WallDelta: 1.0},
			{Op: OpPause},
			{Op: OpTick, WallDelta: 5.0}, // paused, no advance, nothing fires
			{Op: OpResume},
			{Op: OpTick, WallDelta: 1.5},
		},
		Assertions: []Assertion{
			{Type: AssertSimTime, Time: 2.5},
			{Type: AssertEventCount, Count: 4},
			{Type: AssertTypeCount, EventType: "unit.spawned", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failures: %v", result.Failures)

	require.Len(t, result.Trace, 4)
	fired := result.Trace[3]
	assert.Equal(t, "unit.spawned", fired.Type)
	assert.Equal(t, 2.0, fired.Timestamp, "fires stamped at its due time, not tick arrival")
}

func TestRunTimeScaleAffectsAdvance(t *testing.T) {
	scenario := &Scenario{
		Name:        "scaled-clock",
		Description: "10x scale turns half a wall second into five simulated",
		TimeScale:   10,
		Steps: []Step{
			{Op: OpStart},
			{Op: OpTick, WallDelta: 0.5},
			{Op: OpSetScale, Scale: 2},
			{Op: OpTick, WallDelta: 0.5},
		},
		Assertions: []Assertion{
			{Type: AssertSimTime, Time: 6},
			{Type: AssertTypeCount, EventType: "time.scaled", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failures: %v", result.Failures)
}

func TestRunCollectsAssertionFailures(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong-expectations",
		Description: "assertion misses are reported, not fatal",
		Steps: []Step{
			{Op: OpStart},
			{Op: OpTick, WallDelta: 1.0},
		},
		Assertions: []Assertion{
			{Type: AssertSimTime, Time: 2.0},
			{Type: AssertRunState, State: "running"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "sim time is 1, want 2")
}

func TestRunStepFailureAbortsRun(t *testing.T) {
	scenario := &Scenario{
		Name:        "seek-before-genesis",
		Description: "an out of range seek aborts the script",
		Steps: []Step{
			{Op: OpStart},
			{Op: OpSeek, Target: -1.0},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.True(t, simerr.IsSeekOutOfRange(err))
	assert.Contains(t, err.Error(), "steps[1] (seek)")
}

func TestRunEmitWhileStoppedAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "emit-stopped",
		Description: "emission requires a started clock",
		Steps: []Step{
			{Op: OpEmit, Type: "unit.created", Data: map[string]any{"unit": "a"}},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.True(t, simerr.IsValidation(err))
}

func TestRunIsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/time-travel-audit.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.StateHash, second.StateHash)
	assert.True(t, first.Passed(), "failures: %v", first.Failures)
}
