// Package store provides SQLite-backed durable storage for the
// simulation event log and its checkpoints.
//
// The store implements two contracts consumed by the orchestrator:
//   - Events: an ordered, append-only log with range queries and replay
//   - Checkpoints: keyed snapshots with nearest-at-or-before lookup
//
// # Critical Patterns
//
// Ordering
//   - Store order equals ascending (timestamp, seq) order. seq is the
//     insertion sequence assigned by SQLite on append and breaks ties
//     between events sharing a simulated timestamp.
//   - All queries include: ORDER BY timestamp ASC, seq ASC. This is what
//     makes replay deterministic.
//
// Identity
//   - event_id carries a UNIQUE constraint; a collision on append is
//     reported as DUPLICATE_EVENT, any other write failure as PERSISTENCE.
//
// Atomic snapshots
//   - Checkpoint saves run in a transaction; a torn snapshot is never
//     observable. Two saves at the same timestamp resolve to the last
//     write observed (INSERT OR REPLACE).
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Payloads are stored as canonical JSON TEXT (internal/canonical), state
// snapshots as BLOBs alongside their domain-separated SHA-256 hash.
package store
