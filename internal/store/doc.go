// Package store provides SQLite-backed durable storage for high-water marks.
//
// The store keeps three tables:
//   - hwm_state: the current value per HWM identity
//   - hwm_history: every saved value, append-only
//   - proposals: plan proposals, so a plan made by one process can be
//     committed by another
//
// # Atomicity
//
// Save upserts the state, appends history and marks the committing plan's
// proposal committed in one transaction. A crash leaves either all of it or
// none of it.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Values are stored in the serialized form of their hwm.Kind and decoded with
// the registry passed to Open.
package store
