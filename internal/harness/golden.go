package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/strategos-sim/strategos/internal/canonical"
)

// snapshotDocument flattens a result into the canonical map form used
// for golden comparison. Canonical JSON keeps key order and float
// formatting stable, so the golden bytes are reproducible everywhere.
func snapshotDocument(scenarioName string, result *Result) map[string]any {
	trace := make([]any, len(result.Trace))
	for i, evt := range result.Trace {
		trace[i] = map[string]any{
			"event_id":  evt.EventID,
			"timestamp": evt.Timestamp,
			"type":      evt.Type,
			"data":      evt.Data,
		}
	}
	return map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"final": map[string]any{
			"sim_time":    result.SimTime,
			"run_state":   result.RunState,
			"event_count": result.EventCount,
		},
	}
}

// RunWithGolden executes a scenario, fails the test on any assertion
// violation, and compares the canonical trace snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, failure := range result.Failures {
		t.Error(failure)
	}

	traceJSON, err := canonical.Marshal(snapshotDocument(scenario.Name, result))
	if err != nil {
		return fmt.Errorf("encode trace snapshot: %w", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
