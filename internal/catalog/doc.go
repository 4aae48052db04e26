// Package catalog is the durable entity store for the pipeline. It
// persists one JSON document holding every entity's per-stage status,
// artifact locations, and bounded failure history, and is the sole
// source of truth for what work has already been done. Mutations follow
// a load-mutate-save cycle under an in-process mutex and a cross-process
// file lock, with the previous document preserved as a backup before
// each overwrite.
package catalog
