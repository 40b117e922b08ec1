package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a scripted simulation run with assertions on the
// resulting log and state. Scenarios are the conformance layer: the
// same script must produce the same trace on every run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// TimeScale is the initial wall-to-simulated ratio. Defaults to 1.
	TimeScale float64 `yaml:"time_scale,omitempty"`

	// Steps is the scripted operation sequence.
	Steps []Step `yaml:"steps"`

	// Assertions validate final state after all steps complete.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted operation.
type Step struct {
	// Op selects the operation: start, stop, pause, resume, tick, emit,
	// marker, checkpoint, seek, set_scale, schedule.
	Op string `yaml:"op"`

	// WallDelta is the wall-clock advance in seconds (tick).
	WallDelta float64 `yaml:"wall_delta,omitempty"`

	// Type is the event type (emit, schedule).
	Type string `yaml:"type,omitempty"`

	// Data is the event payload (emit, schedule).
	Data map[string]any `yaml:"data,omitempty"`

	// Label is the marker text (marker).
	Label string `yaml:"label,omitempty"`

	// Target is the simulated time to seek to (seek).
	Target float64 `yaml:"target,omitempty"`

	// Scale is the new time scale (set_scale).
	Scale float64 `yaml:"scale,omitempty"`

	// At is the due simulated time (schedule).
	At float64 `yaml:"at,omitempty"`
}

// Step operation constants.
const (
	OpStart      = "start"
	OpStop       = "stop"
	OpPause      = "pause"
	OpResume     = "resume"
	OpTick       = "tick"
	OpEmit       = "emit"
	OpMarker     = "marker"
	OpCheckpoint = "checkpoint"
	OpSeek       = "seek"
	OpSetScale   = "set_scale"
	OpSchedule   = "schedule"
)

// Assertion validates the simulation after the script finishes.
type Assertion struct {
	// Type selects the assertion:
	// - "sim_time": final simulated time equals Time
	// - "event_count": total applied events equals Count
	// - "type_count": events of EventType applied equals Count
	// - "run_state": final clock state equals State
	// - "replay_matches": rebuilding from genesis reproduces live state
	Type string `yaml:"type"`

	Time      float64 `yaml:"time,omitempty"`
	Count     int64   `yaml:"count,omitempty"`
	EventType string  `yaml:"event_type,omitempty"`
	State     string  `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertSimTime       = "sim_time"
	AssertEventCount    = "event_count"
	AssertTypeCount     = "type_count"
	AssertRunState      = "run_state"
	AssertReplayMatches = "replay_matches"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly instead of silently skipping steps.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.TimeScale < 0 {
		return fmt.Errorf("time_scale must not be negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	switch step.Op {
	case OpStart, OpStop, OpPause, OpResume, OpCheckpoint:
	case OpTick:
		if step.WallDelta < 0 {
			return fmt.Errorf("steps[%d]: wall_delta must not be negative", index)
		}
	case OpEmit:
		if step.Type == "" {
			return fmt.Errorf("steps[%d]: type is required for emit", index)
		}
	case OpMarker:
		if step.Label == "" {
			return fmt.Errorf("steps[%d]: label is required for marker", index)
		}
	case OpSeek:
		// Negative targets are allowed here so scenarios can assert the
		// runner surfaces SEEK_OUT_OF_RANGE.
	case OpSetScale:
		if step.Scale <= 0 {
			return fmt.Errorf("steps[%d]: scale must be positive for set_scale", index)
		}
	case OpSchedule:
		if step.Type == "" {
			return fmt.Errorf("steps[%d]: type is required for schedule", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertSimTime, AssertEventCount, AssertRunState, AssertReplayMatches:
	case AssertTypeCount:
		if a.EventType == "" {
			return fmt.Errorf("assertions[%d]: event_type is required for type_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
