// Package plan diffs the finalized resources of a run against the applied
// state kept in the store, and records new state on apply.
//
// Each unit carries the SHA256 checksum of the entity's canonical
// properties. Equal checksums and types mean no change; otherwise the
// unit lists per-property changes with sensitive values masked. Applied
// state that the program no longer declares is planned for deletion,
// dependents first.
package plan
