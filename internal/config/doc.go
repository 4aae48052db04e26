// Package config loads, validates, and normalizes Loom configuration from
// TOML. Defaults live in Default; Load layers an optional config file on
// top, expands paths, and rejects unusable values before anything runs.
package config
