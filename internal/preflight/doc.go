// Package preflight provides readiness checks for the filesystem
// paths, state store, and external binaries and services a pipeline
// run depends on.
//
// These checks run in two contexts:
//   - The orchestrator calls RunAll before touching any entity. A
//     failed check aborts the run as a structural failure; no stage
//     work starts against a broken foundation.
//   - The CLI "loom status" command uses individual check functions
//     (CheckSystemDeps, CheckDirectoryAccess) to display health.
//
// Capability health travels through the same surface: callers pass the
// capabilities they plan to invoke and their HealthCheck results join
// the structural ones.
package preflight
