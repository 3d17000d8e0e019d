// Package store records optimizer runs in SQLite.
//
// Each run keeps its result summary, diagnostics and the exported client
// bundle, so a bundle can be re-emitted later without optimizing again:
//   - runs: one row per run, keyed by run id
//   - run_plans: the chosen plan of every triple, in search order
//   - run_caches: every materialized cache of the run
//
// Runs are ordered by seq, a logical counter assigned on write, never by
// wall time. Writing a run id twice is a no-op. Diagnostics and bundles
// are stored as canonical JSON, and runs whose bundle_hash matches
// produced byte-identical bundles.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
