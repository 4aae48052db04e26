package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"loom/internal/catalog"
	"loom/internal/checkpoint"
	"loom/internal/config"
	"loom/internal/failqueue"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/preflight"
	"loom/internal/retry"
	"loom/internal/scan"
	"loom/internal/stage"
	"loom/internal/stageexec"
)

// ErrRunActive reports that another process already holds the run lock.
var ErrRunActive = errors.New("another pipeline run is already active")

// ErrNoCheckpoint reports a resume attempt with no checkpoint on disk.
var ErrNoCheckpoint = errors.New("no checkpoint found, nothing to resume")

// StructuralError aborts a whole batch before or during processing. It
// marks faults no single entity caused: failed preflight checks, a
// broken store, an unreadable failure queue.
type StructuralError struct {
	Reason string
	Checks []preflight.Result
	Err    error
}

func (e *StructuralError) Error() string {
	if len(e.Checks) > 0 {
		parts := make([]string, 0, len(e.Checks))
		for _, check := range e.Checks {
			parts = append(parts, fmt.Sprintf("%s %s", check.Name, check.Detail))
		}
		return fmt.Sprintf("%s: %s", e.Reason, strings.Join(parts, "; "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *StructuralError) Unwrap() error { return e.Err }

// Capabilities binds each stage to the generator that produces its
// artifact. A nil entry leaves the stage without a generator; runs
// planning that stage fail Process with a capability error.
type Capabilities struct {
	Music stage.Capability
	Image stage.Capability
	Video stage.Capability
}

// For returns the capability bound to a stage, nil when unbound.
func (c Capabilities) For(stg catalog.Stage) stage.Capability {
	switch stg {
	case catalog.StageMusic:
		return c.Music
	case catalog.StageImage:
		return c.Image
	case catalog.StageVideo:
		return c.Video
	default:
		return nil
	}
}

// Options wires an Orchestrator. Config, Store, Failures, and
// Checkpoints are required; the rest fall back to working defaults.
type Options struct {
	Config       *config.Config
	Store        *catalog.Store
	Failures     *failqueue.Queue
	Checkpoints  *checkpoint.Manager
	Capabilities Capabilities
	Notifier     notifications.Service
	Logger       *slog.Logger
	Policy       retry.Policy
	Sleep        func(context.Context, time.Duration) error
	Now          func() time.Time
}

// Orchestrator drives batches of entities through the pipeline stages,
// checkpointing progress and isolating per-entity failures so one bad
// entity never sinks the batch.
type Orchestrator struct {
	cfg         *config.Config
	store       *catalog.Store
	failures    *failqueue.Queue
	checkpoints *checkpoint.Manager
	caps        Capabilities
	processor   *stageexec.Processor
	scanner     *scan.Scanner
	notifier    notifications.Service
	logger      *slog.Logger
	lock        *flock.Flock
	now         func() time.Time
}

// New builds an Orchestrator from Options.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline: catalog store is required")
	}
	if opts.Failures == nil {
		return nil, errors.New("pipeline: failure queue is required")
	}
	if opts.Checkpoints == nil {
		return nil, errors.New("pipeline: checkpoint manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewService(opts.Config.Notifications)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == nil {
		opts.Policy = retry.FromConfig(opts.Config.Retry)
	}

	processor, err := stageexec.NewProcessor(stageexec.Options{
		Store:    opts.Store,
		Failures: opts.Failures,
		Policy:   opts.Policy,
		Logger:   opts.Logger,
		Sleep:    opts.Sleep,
		Now:      opts.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:         opts.Config,
		store:       opts.Store,
		failures:    opts.Failures,
		checkpoints: opts.Checkpoints,
		caps:        opts.Capabilities,
		processor:   processor,
		scanner:     scan.New(opts.Config, opts.Store, opts.Logger),
		notifier:    opts.Notifier,
		logger:      logging.NewComponentLogger(opts.Logger, "pipeline"),
		lock:        flock.New(opts.Config.RunLockPath()),
		now:         opts.Now,
	}, nil
}

// RunOptions tunes one batch.
type RunOptions struct {
	// Stages restricts the run to a subset; empty means every stage.
	// Stages always execute in catalog order regardless of input order.
	Stages []catalog.Stage
	// EntityIDs names the entities to process. Empty selects every
	// entity that needs a planned stage; an unknown id fails the run.
	// RetryFailed treats the list as a filter over queued failures.
	EntityIDs []string
	// Force reprocesses stages that already completed.
	Force bool
	// Limit caps how many entities the batch takes. Zero falls back to
	// the configured limit; negative means unlimited.
	Limit int
	// Workers overrides the configured worker count when positive.
	Workers int
	// DryRun reports what would happen without touching anything.
	DryRun bool
	// SkipScan suppresses the scan-before-run pass even when the
	// configuration enables it.
	SkipScan bool
	// OnProgress receives one event per finished stage attempt. Called
	// from worker goroutines.
	OnProgress func(Event)
}

// planStages normalizes the requested stage set into catalog order.
func planStages(requested []catalog.Stage) []catalog.Stage {
	if len(requested) == 0 {
		return catalog.AllStages()
	}
	want := make(map[catalog.Stage]bool, len(requested))
	for _, stg := range requested {
		want[stg] = true
	}
	plan := make([]catalog.Stage, 0, len(want))
	for _, stg := range catalog.AllStages() {
		if want[stg] {
			plan = append(plan, stg)
		}
	}
	return plan
}

// acquireRunLock takes the exclusive run lock. The returned release
// function is safe to defer and call once.
func (o *Orchestrator) acquireRunLock() (func(), error) {
	locked, err := o.lock.TryLock()
	if err != nil {
		return nil, &StructuralError{Reason: "acquire run lock", Err: err}
	}
	if !locked {
		return nil, ErrRunActive
	}
	return func() {
		if err := o.lock.Unlock(); err != nil {
			o.logger.Warn("failed to release run lock", logging.Error(err))
		}
	}, nil
}

// runPreflight verifies the environment and the planned capabilities
// before any entity is touched. Any failed check aborts the batch.
func (o *Orchestrator) runPreflight(ctx context.Context, plan []catalog.Stage) error {
	checkers := make([]preflight.HealthChecker, 0, len(plan))
	for _, stg := range plan {
		if capability := o.caps.For(stg); capability != nil {
			checkers = append(checkers, capability)
		}
	}
	results := preflight.RunAll(ctx, o.cfg, checkers...)

	var failed []preflight.Result
	for _, result := range results {
		if result.Passed {
			continue
		}
		o.logger.Error("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"))
		failed = append(failed, result)
	}
	if len(failed) > 0 {
		return &StructuralError{Reason: "preflight failed", Checks: failed}
	}
	return nil
}

// selectEntities resolves the batch id list: explicit ids verified
// against the store, or every entity needing a planned stage, in
// catalog order. The limit is applied after selection.
func (o *Orchestrator) selectEntities(plan []catalog.Stage, opts RunOptions) ([]string, error) {
	var ids []string
	if len(opts.EntityIDs) > 0 {
		seen := make(map[string]bool, len(opts.EntityIDs))
		for _, raw := range opts.EntityIDs {
			id := strings.TrimSpace(raw)
			if id == "" || seen[id] {
				continue
			}
			if _, err := o.store.Get(id); err != nil {
				return nil, &StructuralError{Reason: fmt.Sprintf("select entity %q", id), Err: err}
			}
			seen[id] = true
			ids = append(ids, id)
		}
	} else {
		wanted := make(map[string]bool)
		for _, stg := range plan {
			entities, err := o.store.NeedingStage(stg, opts.Force)
			if err != nil {
				return nil, &StructuralError{Reason: "select entities", Err: err}
			}
			for _, entity := range entities {
				wanted[entity.ID] = true
			}
		}
		all, err := o.store.List()
		if err != nil {
			return nil, &StructuralError{Reason: "select entities", Err: err}
		}
		for _, entity := range all {
			if wanted[entity.ID] {
				ids = append(ids, entity.ID)
			}
		}
	}

	if limit := o.effectiveLimit(opts); limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (o *Orchestrator) effectiveLimit(opts RunOptions) int {
	if opts.Limit != 0 {
		if opts.Limit < 0 {
			return 0
		}
		return opts.Limit
	}
	return o.cfg.Pipeline.Limit
}

func (o *Orchestrator) effectiveWorkers(opts RunOptions) int {
	workers := opts.Workers
	if workers <= 0 {
		workers = o.cfg.Pipeline.Workers
	}
	if workers <= 0 {
		workers = 1
	}
	return workers
}
