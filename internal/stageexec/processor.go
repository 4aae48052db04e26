// Package stageexec drives one entity through one pipeline stage. It
// owns skip and force logic, the retry loop around the injected
// capability, and the resulting writes to the entity catalog and the
// failure queue. Checkpointing stays with the orchestrator.
package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/catalog"
	"loom/internal/failqueue"
	"loom/internal/logging"
	"loom/internal/retry"
	"loom/internal/services"
	"loom/internal/stage"
)

// ErrPrerequisiteNotMet reports a stage fed to the processor before its
// prior stage finished. It indicates an orchestration bug and is
// surfaced to the caller instead of being absorbed into the result.
var ErrPrerequisiteNotMet = errors.New("prerequisite stage not satisfied")

// maxServerBackoff bounds how long a Retry-After header can extend a
// single retry wait.
const maxServerBackoff = 5 * time.Minute

// ResultStatus classifies a processed stage attempt.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultSkipped   ResultStatus = "skipped"
	ResultFailed    ResultStatus = "failed"
)

// Result describes the outcome of one Process call. A terminal failure
// is absorbed into the result; Err then holds the classified error.
type Result struct {
	EntityID     string
	Stage        catalog.Stage
	Status       ResultStatus
	ArtifactPath string
	Attempts     int
	Kind         services.Kind
	Err          error
	Duration     time.Duration
}

// Success reports a completed stage.
func (r Result) Success() bool { return r.Status == ResultCompleted }

// Skipped reports that no capability call was made.
func (r Result) Skipped() bool { return r.Status == ResultSkipped }

// Failed reports a terminal failure recorded in the failure queue.
func (r Result) Failed() bool { return r.Status == ResultFailed }

// Options configures a Processor.
type Options struct {
	Store    *catalog.Store
	Failures *failqueue.Queue
	Policy   retry.Policy
	Logger   *slog.Logger
	// Sleep realizes retry delays; tests inject a fake. Nil uses a
	// cancellable real sleep.
	Sleep func(context.Context, time.Duration) error
	Now   func() time.Time
}

// Processor executes stages against the catalog.
type Processor struct {
	store    *catalog.Store
	failures *failqueue.Queue
	policy   retry.Policy
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
}

// NewProcessor validates options and builds a Processor.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Store == nil {
		return nil, errors.New("stageexec: catalog store is required")
	}
	if opts.Failures == nil {
		return nil, errors.New("stageexec: failure queue is required")
	}
	if opts.Policy == nil {
		opts.Policy = retry.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{
		store:    opts.Store,
		failures: opts.Failures,
		policy:   opts.Policy,
		logger:   logging.NewComponentLogger(opts.Logger, "stageexec"),
		sleep:    opts.Sleep,
		now:      opts.Now,
	}, nil
}

// Process drives one entity through one stage. Per-entity failures are
// absorbed into the Result; only store faults, cancellation, and
// prerequisite violations come back as errors.
func (p *Processor) Process(ctx context.Context, entityID string, stg catalog.Stage, capability stage.Capability, force bool) (Result, error) {
	if capability == nil {
		return Result{}, fmt.Errorf("capability unavailable for stage %s", stg)
	}

	start := p.now()
	ctx = services.WithEntityID(ctx, entityID)
	ctx = services.WithStage(ctx, string(stg))
	logger := logging.WithContext(ctx, p.logger)

	entity, err := p.store.Get(entityID)
	if err != nil {
		return Result{}, err
	}
	if !entity.StageReady(stg) {
		return Result{}, fmt.Errorf("entity %s: stage %s: %w", entityID, stg, ErrPrerequisiteNotMet)
	}

	record := entity.Stage(stg)
	if !force {
		switch record.Status {
		case catalog.StatusCompleted, catalog.StatusSkipped:
			return p.result(entityID, stg, ResultSkipped, record.ArtifactPath, 0, nil, start), nil
		case catalog.StatusPending:
			if artifact, ok := capability.Locate(entity); ok {
				if _, err := p.store.Upsert(entityID, func(e *catalog.Entity) error {
					return e.SetStageStatus(stg, catalog.StatusSkipped)
				}); err != nil {
					return Result{}, fmt.Errorf("persist skip: %w", err)
				}
				logger.Info("stage skipped, artifact already present",
					logging.String(logging.FieldEventType, "stage_skip"),
					logging.String(logging.FieldArtifact, artifact))
				return p.result(entityID, stg, ResultSkipped, artifact, 0, nil, start), nil
			}
		}
	}

	attempts := 0
	if _, err := p.store.Upsert(entityID, func(e *catalog.Entity) error {
		rec := e.Stage(stg)
		if force && rec.Status != catalog.StatusPending {
			// Forced redo starts a fresh episode regardless of the
			// previous outcome.
			rec.Status = catalog.StatusPending
			rec.AttemptCount = 0
		}
		rec.ArtifactPath = ""
		attempts = rec.AttemptCount
		return e.SetStageStatus(stg, catalog.StatusProcessing)
	}); err != nil {
		return Result{}, fmt.Errorf("persist processing transition: %w", err)
	}

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	for {
		snapshot, err := p.store.Get(entityID)
		if err != nil {
			return Result{}, err
		}

		outcome, execErr := capability.Execute(ctx, snapshot)
		if execErr == nil {
			if _, err := p.store.Upsert(entityID, func(e *catalog.Entity) error {
				if err := e.SetStageStatus(stg, catalog.StatusCompleted); err != nil {
					return err
				}
				rec := e.Stage(stg)
				rec.ArtifactPath = outcome.ArtifactPath
				if outcome.Metadata != nil {
					rec.Metadata = outcome.Metadata
				}
				rec.AttemptCount = 0
				return nil
			}); err != nil {
				return Result{}, fmt.Errorf("persist stage result: %w", err)
			}
			if _, err := p.failures.Remove(entityID, stg); err != nil {
				logger.Warn("drop stale failure entry", logging.Error(err))
			}
			logger.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.String(logging.FieldArtifact, outcome.ArtifactPath),
				logging.Int(logging.FieldAttempt, attempts))
			return p.result(entityID, stg, ResultCompleted, outcome.ArtifactPath, attempts, nil, start), nil
		}

		kind := services.KindOf(execErr)
		decision := p.policy.Decide(kind, attempts)
		if !decision.Retry {
			message := execErr.Error()
			failedAt := p.now().UTC()
			if _, err := p.store.Upsert(entityID, func(e *catalog.Entity) error {
				if err := e.SetStageStatus(stg, catalog.StatusFailed); err != nil {
					return err
				}
				e.Stage(stg).AttemptCount = attempts
				e.RecordFailure(stg, message, failedAt)
				return nil
			}); err != nil {
				return Result{}, fmt.Errorf("persist stage failure: %w", err)
			}
			if err := p.failures.Add(failqueue.FailedTask{
				EntityID:     entityID,
				Stage:        stg,
				Kind:         kind,
				FailedAt:     failedAt,
				ErrorMessage: message,
				AttemptCount: attempts,
			}); err != nil {
				logger.Error("record failed task", logging.Error(err))
			}
			logger.Error("stage failed",
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.String(logging.FieldErrorKind, string(kind)),
				logging.Int(logging.FieldAttempt, attempts),
				logging.Error(execErr))
			result := p.result(entityID, stg, ResultFailed, "", attempts, execErr, start)
			result.Kind = kind
			return result, nil
		}

		attempts++
		if _, err := p.store.Upsert(entityID, func(e *catalog.Entity) error {
			e.Stage(stg).AttemptCount = attempts
			return e.SetStageStatus(stg, catalog.StatusProcessing)
		}); err != nil {
			return Result{}, fmt.Errorf("persist retry attempt: %w", err)
		}
		if after, ok := services.RetryAfter(execErr); ok && after > decision.Delay {
			// Server-advertised waits override the schedule, capped at
			// maxServerBackoff.
			if after > maxServerBackoff {
				after = maxServerBackoff
			}
			decision.Delay = after
		}
		logger.Warn("stage attempt failed, retrying",
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Int(logging.FieldAttempt, attempts),
			logging.Duration("delay", decision.Delay),
			logging.Error(execErr))

		if err := p.sleep(ctx, decision.Delay); err != nil {
			// Cancelled mid-wait: park the stage back at pending so a
			// resumed run re-attempts it cleanly.
			if _, uerr := p.store.Upsert(entityID, func(e *catalog.Entity) error {
				return e.SetStageStatus(stg, catalog.StatusPending)
			}); uerr != nil {
				logger.Error("reset cancelled stage", logging.Error(uerr))
			}
			return Result{}, err
		}
	}
}

func (p *Processor) result(entityID string, stg catalog.Stage, status ResultStatus, artifact string, attempts int, err error, start time.Time) Result {
	return Result{
		EntityID:     entityID,
		Stage:        stg,
		Status:       status,
		ArtifactPath: artifact,
		Attempts:     attempts,
		Err:          err,
		Duration:     p.now().Sub(start),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
