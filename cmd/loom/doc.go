// Package main hosts the Loom CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into
// orchestrated pipeline runs, catalog registration, failure queue
// retries, scan passes, and configuration scaffolding. It centralizes
// configuration resolution, capability wiring, and exit code mapping so
// subcommands can focus on user experience instead of plumbing.
//
// Keep this package lean: add new functionality by extending the
// internal packages first, then surface it through dedicated commands
// or flags here.
package main
