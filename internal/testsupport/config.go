package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"loom/internal/config"
)

// ConfigOption adjusts the generated test configuration before its
// directories are created.
type ConfigOption func(testing.TB, *config.Config)

// NewConfig returns a config rooted in a fresh temp directory, with
// every pipeline path pointed under it and external services set to
// harmless defaults. The quota ledger starts disabled so tests opt in.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfg := &cfgVal
	cfg.Paths = config.Paths{
		MusicDir:     filepath.Join(base, "music"),
		ImageDir:     filepath.Join(base, "images"),
		VideoDir:     filepath.Join(base, "videos"),
		ThumbnailDir: filepath.Join(base, "thumbnails"),
		StateDir:     filepath.Join(base, "state"),
		ReportDir:    filepath.Join(base, "reports"),
		LogDir:       filepath.Join(base, "logs"),
	}
	cfg.Quota.Enabled = false
	cfg.Quota.Path = filepath.Join(base, "state", "quota.db")
	cfg.Suno.APIKey = "test"
	cfg.Image.Provider = "placeholder"

	for _, opt := range opts {
		opt(t, cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return cfg
}

// WithWorkers sets the orchestrator worker count on the test config.
func WithWorkers(n int) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Pipeline.Workers = n
	}
}

// WithQuota enables the quota ledger with the given limits.
func WithQuota(requestsPerMinute, dailyLimit int) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Quota.Enabled = true
		cfg.Quota.RequestsPerMinute = requestsPerMinute
		cfg.Quota.DailyLimit = dailyLimit
	}
}

// WithStubbedBinaries puts no-op executables on PATH so dependency
// checks pass without the real tools installed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, _ *config.Config) {
		StubBinaries(t, names...)
	}
}

// StubBinaries writes a shell stub for each named binary into a temp
// directory and prepends that directory to PATH for the remainder of
// the test. Without names the media binaries are stubbed.
func StubBinaries(t testing.TB, names ...string) {
	t.Helper()

	if len(names) == 0 {
		names = []string{"ffmpeg", "ffprobe"}
	}
	binDir := t.TempDir()
	for _, name := range names {
		stub := filepath.Join(binDir, name)
		if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
