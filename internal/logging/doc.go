// Package logging configures slog output for the pipeline. It offers a
// human-readable console handler for interactive runs, a JSON handler for
// log files and non-TTY output, and helpers that attach pipeline
// identifiers carried in a context to every record.
package logging
