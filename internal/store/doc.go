// Package store provides SQLite-backed durable storage for answers that
// have not yet been accepted by the remote system.
//
// The store holds only unresolved work:
//   - one row per (element_id, lesson_id); a new save overwrites the row
//   - status is pending or failed; submitted answers are deleted
//   - seq records insertion order and survives overwrites
//
// # Critical Patterns
//
// Last write wins per key. Every operation is a single statement or a
// single transaction, so readers never observe a partially written row.
//
// Idempotency keys are sticky. Overwriting a row with a payload of the same
// digest keeps its submission_id, so a resent answer reaches the remote
// system under the key it was first sent with.
//
// Deterministic reads. Listing queries use ORDER BY seq ASC.
//
// # Database Configuration
//
//   - WAL mode: readers are not blocked by the writer
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single open connection: SQLite allows one writer
package store
