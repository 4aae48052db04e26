// Package pipeline coordinates batches of entities through the content
// stages. A run takes the exclusive run lock, verifies the environment
// with preflight checks, selects the entities that need work, and fans
// them out to a bounded worker pool; each worker walks its entity
// through the planned stages in order via the stage processor.
//
// Failures stay isolated: a failed stage stops that entity and lands in
// the failure queue while the rest of the batch continues. Progress is
// checkpointed per entity, so an interrupted batch resumes where it
// stopped, and a clean completion removes the checkpoint. Every batch
// ends with a persisted report summarizing stage outcomes.
package pipeline
