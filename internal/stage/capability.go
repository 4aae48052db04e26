package stage

import (
	"context"

	"loom/internal/catalog"
)

// Capability is the external operation fulfilling one pipeline stage.
// Implementations wrap the actual service or tool call and must return
// either a successful Outcome or an error carrying one of the
// classified marker kinds; the core never inspects transport errors.
type Capability interface {
	// Execute produces the stage artifact for the entity. The entity is
	// a snapshot; implementations read prior-stage artifacts from it but
	// never write back.
	Execute(ctx context.Context, entity *catalog.Entity) (Outcome, error)
	// Locate reports an artifact that already exists on disk for the
	// entity, letting the processor skip work done outside this run.
	Locate(entity *catalog.Entity) (string, bool)
	HealthCheck(ctx context.Context) Health
}

// Outcome is a successful stage result.
type Outcome struct {
	ArtifactPath string
	Metadata     map[string]any
}

// Health reports whether a capability can serve requests right now.
// Preflight collects one per planned stage before entities are touched.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy marks the named capability ready.
func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy marks the named capability unready, with the failing detail.
func Unhealthy(name, detail string) Health { return Health{Name: name, Detail: detail} }
