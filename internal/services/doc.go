// Package services holds the cross-cutting helpers the stage
// capabilities share: context annotation and error classification.
//
// Context carries the entity, stage, and run identifiers so a log line
// written deep inside a capability still says which piece of work it
// belongs to. Errors wrap a kind marker (network, timeout, rate limit,
// and so on) that the retry policy reads to decide whether and when a
// failed stage runs again.
package services
