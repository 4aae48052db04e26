// Package scan keeps the catalog in step with the artifact
// directories. Discover registers audio files dropped into the music
// directory as new entities; Reconcile flags catalog records whose
// artifacts have vanished and applies the configured policy.
package scan
