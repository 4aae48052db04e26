package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/deps"
	"loom/internal/logging"
)

// CheckDirectoryAccess verifies that the directory exists and is
// readable, writable, and traversable.
func CheckDirectoryAccess(name, path string) Result {
	fail := func(problem string) Result {
		return Result{Name: name, Detail: path + " (" + problem + ")"}
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return fail("missing")
	case err != nil:
		return fail(fmt.Sprintf("stat failed: %v", err))
	case !info.IsDir():
		return fail("not a directory")
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fail(fmt.Sprintf("access denied: %v", err))
	}
	return Result{Name: name, Passed: true, Detail: path + " (writable)"}
}

// CheckStore verifies the entity store loads and reports its size. A
// parse failure here means every later store operation would fail the
// same way, so the run must not start.
func CheckStore(cfg *config.Config) Result {
	const name = "Entity store"

	store, err := catalog.NewStore(cfg, logging.NewNop())
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	summary, err := store.Stats()
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d entities", summary.Total)}
}

// CheckBinary verifies a required external binary resolves on PATH.
func CheckBinary(name, command string) Result {
	status := deps.CheckBinaries([]deps.Requirement{{Name: name, Command: command}})[0]
	if !status.Available {
		return Result{Name: name, Detail: status.Detail}
	}
	return Result{Name: name, Passed: true, Detail: status.Resolved}
}

// CheckSystemDeps lists every external binary the pipeline can invoke.
// The status command renders this table; RunAll covers the subset a
// particular run needs.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Renders video from audio and artwork",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Verifies and measures generated artifacts",
		},
	})
}
