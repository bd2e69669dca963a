// Package journal writes subscription state transitions to an append-only
// Postgres table.
//
// The journal is an audit trail. It is never read back to rebuild state.
// Rows are buffered and copied in batches; when the buffer is full new
// transitions are dropped and counted rather than blocking the coordinator.
package journal
