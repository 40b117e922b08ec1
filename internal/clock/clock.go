// Package clock implements the simulation clock state machine.
//
// The clock decouples simulated time from wall-clock speed: wall-clock
// deltas are converted into simulated-time advances via a configurable
// scale factor, and advances only take effect while running. Simulated
// time is a live function of wall deltas and scale, not itself replayed -
// replay correctness depends only on fixed event timestamps, never on
// reproducing historical wall-clock pacing.
//
// Thread-safety: all methods are safe for concurrent use via an internal
// mutex. In practice the orchestrator serializes every mutation behind
// its own critical section.
package clock

import (
	"math"
	"sync"

	"github.com/strategos-sim/strategos/internal/simerr"
)

// State enumerates the clock run states.
type State string

const (
	// StateStopped is the initial state; time does not advance.
	StateStopped State = "stopped"
	// StateRunning advances simulated time on each wall-clock delta.
	StateRunning State = "running"
	// StatePaused holds simulated time while preserving the scale.
	StatePaused State = "paused"
)

// Snapshot is a read-only copy of the clock state.
type Snapshot struct {
	SimTime float64
	Scale   float64
	State   State
}

// Clock tracks simulated time, run state, and speed scale.
type Clock struct {
	mu      sync.Mutex
	simTime float64
	scale   float64
	state   State
}

// New creates a stopped clock at simulated time 0 with the given scale.
// The scale must be positive and finite.
func New(scale float64) (*Clock, error) {
	if err := validScale(scale); err != nil {
		return nil, err
	}
	return &Clock{scale: scale, state: StateStopped}, nil
}

// Start transitions stopped -> running.
func (c *Clock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStopped {
		return simerr.New(simerr.CodeInvalidState, "cannot start clock in state %q", c.state)
	}
	c.state = StateRunning
	return nil
}

// Stop transitions any state -> stopped. Always succeeds.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateStopped
}

// Pause transitions running -> paused.
func (c *Clock) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return simerr.New(simerr.CodeInvalidState, "cannot pause clock in state %q", c.state)
	}
	c.state = StatePaused
	return nil
}

// Resume transitions paused -> running.
func (c *Clock) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return simerr.New(simerr.CodeInvalidState, "cannot resume clock in state %q", c.state)
	}
	c.state = StateRunning
	return nil
}

// SetTimeScale changes the speed multiplier. Allowed while running or
// paused; the scale is fixed at construction for a stopped clock.
// The clock state is unchanged on failure.
func (c *Clock) SetTimeScale(scale float64) error {
	if err := validScale(scale); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return simerr.New(simerr.CodeInvalidState, "cannot change time scale while stopped")
	}
	c.scale = scale
	return nil
}

// Advance converts a wall-clock delta (seconds) into a simulated-time
// advance: simTime += wallDelta * scale. Effective only while running;
// in any other state the delta is discarded and the current time is
// returned. Negative deltas are rejected - simulated time moves backward
// only through seek.
func (c *Clock) Advance(wallDelta float64) (float64, error) {
	if wallDelta < 0 || math.IsNaN(wallDelta) || math.IsInf(wallDelta, 0) {
		return 0, simerr.New(simerr.CodeValidation, "wall delta must be a non-negative finite number, got %v", wallDelta)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		c.simTime += wallDelta * c.scale
	}
	return c.simTime, nil
}

// Now returns the current simulated time.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simTime
}

// Scale returns the current time scale.
func (c *Clock) Scale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale
}

// RunState returns the current run state.
func (c *Clock) RunState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetTime moves the clock to an absolute simulated time, clamped at 0.
// Used only by seek after a successful state reconstruction.
func (c *Clock) SetTime(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simTime = math.Max(0, t)
}

// Snapshot returns a consistent copy of the clock state.
func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{SimTime: c.simTime, Scale: c.scale, State: c.state}
}

func validScale(scale float64) error {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return simerr.New(simerr.CodeValidation, "time scale must be positive and finite, got %v", scale)
	}
	return nil
}
