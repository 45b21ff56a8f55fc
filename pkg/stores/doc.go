// Package stores persists run history and applied resource state in
// SQLite (modernc.org/sqlite, WAL mode). The schema is managed with
// golang-migrate from embedded migration files.
//
// A run records one CLI invocation: its status and statistics, a snapshot
// of every finalized entity with sensitive values masked, its outputs and
// the events published while it ran. Recorder builds these rows from an
// evaluation result.
//
// Resource state is what the last apply wrote. Plans diff a new evaluation
// against it, and apply replaces it in a single transaction.
package stores
