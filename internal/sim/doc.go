// Package sim implements the STRATEGOS simulation orchestrator.
//
// The orchestrator owns the projected world, the simulation clock, and
// the backing event log. Every state change flows through one pipeline:
// validate, append to the log, apply to the world, checkpoint on
// cadence, notify observers.
//
// ARCHITECTURE:
//
// Single-Writer Critical Section:
// All mutations (emit, tick, seek, lifecycle transitions, checkpoint
// writes) execute under one mutex, so append order, apply order, and
// causal order always coincide. Reads (Status, QueryEvents) take the
// mutex briefly or not at all.
//
// Time Travel:
// State at any simulated instant is reproducible two ways: live
// incremental application, or nearest checkpoint plus bounded replay.
// Both paths produce byte-identical canonical state. Seek restores
// into a scratch world and swaps only on success, so a failed seek
// (including a corrupted checkpoint) leaves nothing changed.
//
// Determinism:
// Event timestamps are fixed at emit time and replay depends only on
// them plus the log's (timestamp, seq) order. Wall-clock pacing is
// never part of replay. No randomness in any apply path.
package sim
