package preflight

import (
	"context"

	"loom/internal/config"
	"loom/internal/stage"
)

// Result is one check's verdict. Name is what the CLI table prints;
// Detail explains a failure or summarizes what passed.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// HealthChecker is the slice of a capability preflight exercises.
type HealthChecker interface {
	HealthCheck(ctx context.Context) stage.Health
}

// RunAll executes the structural checks every run depends on, then the
// health checks of the capabilities the caller plans to invoke.
func RunAll(ctx context.Context, cfg *config.Config, checkers ...HealthChecker) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Music directory", cfg.Paths.MusicDir),
		CheckDirectoryAccess("Image directory", cfg.Paths.ImageDir),
		CheckDirectoryAccess("Video directory", cfg.Paths.VideoDir),
		CheckDirectoryAccess("Report directory", cfg.Paths.ReportDir),
	}

	results = append(results, CheckStore(cfg))
	results = append(results, CheckBinary("FFprobe", cfg.FFprobeBinary()))

	for _, checker := range checkers {
		if checker == nil {
			continue
		}
		health := checker.HealthCheck(ctx)
		results = append(results, Result{Name: health.Name, Passed: health.Ready, Detail: health.Detail})
	}
	return results
}
