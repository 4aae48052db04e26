package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"loom/internal/catalog"
	"loom/internal/fileutil"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/stageexec"
)

// Run drives every entity that needs work through the planned stages.
// Stage failures are absorbed into the report; the returned error is
// reserved for structural faults that abort the whole batch.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	return o.execute(ctx, ModeRun, opts)
}

// RunStage restricts a run to a single stage.
func (o *Orchestrator) RunStage(ctx context.Context, stg catalog.Stage, opts RunOptions) (*RunReport, error) {
	opts.Stages = []catalog.Stage{stg}
	return o.execute(ctx, ModeStage, opts)
}

// Resume picks up the batch an interrupted run left behind. Entities
// the checkpoint lists as completed are not revisited; the interrupted
// entity runs first, its finished stages skipping naturally.
func (o *Orchestrator) Resume(ctx context.Context, opts RunOptions) (*RunReport, error) {
	cp, err := o.checkpoints.Load()
	if err != nil {
		return nil, &StructuralError{Reason: "load checkpoint", Err: err}
	}
	if cp == nil {
		return nil, ErrNoCheckpoint
	}

	ids := make([]string, 0, len(cp.PendingIDs)+1)
	for _, id := range cp.ResumePending() {
		if _, err := o.store.Get(id); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				o.logger.Warn("checkpointed entity no longer exists, dropping",
					logging.String(logging.FieldEntityID, id))
				continue
			}
			return nil, &StructuralError{Reason: "load checkpointed entities", Err: err}
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		// The interrupted run had already finished every entity; only
		// the checkpoint file survived the crash.
		if err := o.checkpoints.Clear(); err != nil {
			return nil, &StructuralError{Reason: "clear stale checkpoint", Err: err}
		}
		o.logger.Info("checkpoint held no unfinished entities, cleared",
			logging.String(logging.FieldRunID, cp.RunID))
		report := newReport(uuid.NewString(), ModeResume, planStages(opts.Stages), o.now())
		report.ResumedFrom = cp.RunID
		report.FinishedAt = o.now()
		return report, nil
	}

	opts.EntityIDs = ids
	report, err := o.execute(ctx, ModeResume, opts)
	if report != nil {
		report.ResumedFrom = cp.RunID
	}
	return report, err
}

func (o *Orchestrator) execute(ctx context.Context, mode Mode, opts RunOptions) (*RunReport, error) {
	plan := planStages(opts.Stages)
	if len(plan) == 0 {
		return nil, &StructuralError{Reason: "no valid stages requested"}
	}

	if opts.DryRun {
		return o.dryRun(mode, plan, opts)
	}

	release, err := o.acquireRunLock()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := o.runPreflight(ctx, plan); err != nil {
		return nil, err
	}

	if reset, err := o.store.ResetStuckProcessing(); err != nil {
		return nil, &StructuralError{Reason: "reset stale processing stages", Err: err}
	} else if reset > 0 {
		o.logger.Warn("reset stages stuck in processing from a previous run",
			logging.Int(logging.FieldCount, reset))
	}

	if o.shouldScan(mode, opts) {
		if _, err := o.scanner.Discover(); err != nil {
			return nil, &StructuralError{Reason: "scan music directory", Err: err}
		}
		if _, err := o.scanner.Reconcile(); err != nil {
			return nil, &StructuralError{Reason: "reconcile artifacts", Err: err}
		}
	}

	ids, err := o.selectEntities(plan, opts)
	if err != nil {
		return nil, err
	}

	state := newRunState(uuid.NewString(), mode, plan, ids, o.now())

	if len(ids) == 0 {
		o.logger.Info("no entities need processing",
			logging.String(logging.FieldRunID, state.runID),
			logging.Any("stages", plan))
		return state.report(o.now()), nil
	}

	o.logger.Info("run started",
		logging.String(logging.FieldRunID, state.runID),
		logging.Int(logging.FieldCount, len(ids)),
		logging.Any("stages", plan),
		logging.Bool("force", opts.Force),
		logging.String(logging.FieldEventType, "run_started"))
	o.saveProgress(state)
	o.notifyStart(ctx, len(ids))

	ctx = services.WithRunID(ctx, state.runID)
	runErr := o.runWorkers(ctx, o.effectiveWorkers(opts), ids, func(gctx context.Context, id string) error {
		return o.processEntity(gctx, id, plan, opts, state)
	})

	report := state.report(o.now())

	if runErr != nil {
		// The checkpoint stays on disk so the remainder can resume.
		o.logger.Error("run aborted",
			logging.String(logging.FieldRunID, state.runID),
			logging.Error(runErr),
			logging.String(logging.FieldEventType, "run_aborted"))
		o.persistReport(report)
		return report, o.asStructural(runErr)
	}

	if err := o.checkpoints.Clear(); err != nil {
		o.logger.Warn("failed to clear checkpoint after completed run", logging.Error(err))
	}
	o.notifyCompleted(ctx, report)
	o.persistReport(report)
	o.logger.Info("run finished",
		logging.String(logging.FieldRunID, state.runID),
		logging.Int("processed", report.Processed),
		logging.Int("failed", report.Failed),
		logging.Duration(logging.FieldDuration, report.Duration()),
		logging.String(logging.FieldEventType, "run_finished"))
	return report, nil
}

func (o *Orchestrator) shouldScan(mode Mode, opts RunOptions) bool {
	if opts.SkipScan || !o.cfg.Pipeline.ScanBeforeRun {
		return false
	}
	return mode == ModeRun || mode == ModeStage
}

func (o *Orchestrator) runWorkers(ctx context.Context, workers int, ids []string, work func(context.Context, string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		id := id
		g.Go(func() error { return work(gctx, id) })
	}
	return g.Wait()
}

// processEntity walks one entity through the planned stages in order.
// A failed stage stops the walk, since downstream stages would only
// report the missing prerequisite, and counts the entity as failed.
// Only structural faults propagate as errors and cancel the batch.
func (o *Orchestrator) processEntity(ctx context.Context, id string, plan []catalog.Stage, opts RunOptions, state *runState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state.startEntity(id, plan[0])
	o.saveProgress(state)

	entityFailed := false
	for _, stg := range plan {
		result, err := o.processor.Process(ctx, id, stg, o.caps.For(stg), opts.Force)
		if err != nil {
			if errors.Is(err, stageexec.ErrPrerequisiteNotMet) {
				state.recordBlocked(id, stg, err)
				emit(opts, Event{EntityID: id, Stage: stg, Status: stageexec.ResultFailed, Err: err})
				entityFailed = true
				break
			}
			return err
		}

		state.recordResult(result)
		emit(opts, Event{
			EntityID: id,
			Stage:    stg,
			Status:   result.Status,
			Attempts: result.Attempts,
			Err:      result.Err,
		})

		if result.Failed() {
			o.notifyEntityFailed(ctx, id, result)
			entityFailed = true
			break
		}
	}

	state.finishEntity(id, entityFailed)
	o.saveProgress(state)
	return nil
}

// RetryFailed reprocesses stages recorded in the failure queue, scoped
// to the planned stages and entity ids when a subset was requested.
// Each retried stage starts from a clean attempt count; entries whose
// stage meanwhile completed are dropped from the queue without
// reprocessing.
func (o *Orchestrator) RetryFailed(ctx context.Context, opts RunOptions) (*RunReport, error) {
	plan := planStages(opts.Stages)
	if len(plan) == 0 {
		return nil, &StructuralError{Reason: "no valid stages requested"}
	}

	release, err := o.acquireRunLock()
	if err != nil {
		return nil, err
	}
	defer release()

	tasks, err := o.failures.List()
	if err != nil {
		return nil, &StructuralError{Reason: "list failure queue", Err: err}
	}

	wanted := make(map[catalog.Stage]bool, len(plan))
	for _, stg := range plan {
		wanted[stg] = true
	}
	wantEntity := make(map[string]bool, len(opts.EntityIDs))
	for _, raw := range opts.EntityIDs {
		if id := strings.TrimSpace(raw); id != "" {
			wantEntity[id] = true
		}
	}
	stagesByEntity := make(map[string][]catalog.Stage)
	present := make(map[catalog.Stage]bool)
	var order []string
	for _, task := range tasks {
		if !wanted[task.Stage] {
			continue
		}
		if len(wantEntity) > 0 && !wantEntity[task.EntityID] {
			continue
		}
		if _, seen := stagesByEntity[task.EntityID]; !seen {
			order = append(order, task.EntityID)
		}
		stagesByEntity[task.EntityID] = append(stagesByEntity[task.EntityID], task.Stage)
		present[task.Stage] = true
	}
	for id := range stagesByEntity {
		sort.Slice(stagesByEntity[id], func(i, j int) bool {
			return catalog.StageIndex(stagesByEntity[id][i]) < catalog.StageIndex(stagesByEntity[id][j])
		})
	}
	if limit := o.effectiveLimit(opts); limit > 0 && len(order) > limit {
		for _, id := range order[limit:] {
			delete(stagesByEntity, id)
		}
		order = order[:limit]
	}

	retryPlan := make([]catalog.Stage, 0, len(present))
	for _, stg := range catalog.AllStages() {
		if present[stg] {
			retryPlan = append(retryPlan, stg)
		}
	}

	if len(order) == 0 {
		o.logger.Info("failure queue holds nothing to retry", logging.Any("stages", plan))
		report := newReport(uuid.NewString(), ModeRetry, plan, o.now())
		report.FinishedAt = o.now()
		return report, nil
	}

	if err := o.runPreflight(ctx, retryPlan); err != nil {
		return nil, err
	}

	state := newRunState(uuid.NewString(), ModeRetry, retryPlan, order, o.now())

	o.logger.Info("retry started",
		logging.String(logging.FieldRunID, state.runID),
		logging.Int(logging.FieldCount, len(order)),
		logging.Any("stages", retryPlan),
		logging.String(logging.FieldEventType, "retry_started"))
	o.saveProgress(state)
	o.notifyStart(ctx, len(order))

	ctx = services.WithRunID(ctx, state.runID)
	runErr := o.runWorkers(ctx, o.effectiveWorkers(opts), order, func(gctx context.Context, id string) error {
		return o.retryEntity(gctx, id, stagesByEntity[id], opts, state)
	})

	report := state.report(o.now())

	if runErr != nil {
		o.logger.Error("retry aborted",
			logging.String(logging.FieldRunID, state.runID),
			logging.Error(runErr),
			logging.String(logging.FieldEventType, "run_aborted"))
		o.persistReport(report)
		return report, o.asStructural(runErr)
	}

	if err := o.checkpoints.Clear(); err != nil {
		o.logger.Warn("failed to clear checkpoint after completed retry", logging.Error(err))
	}
	o.notifyCompleted(ctx, report)
	o.persistReport(report)
	o.logger.Info("retry finished",
		logging.String(logging.FieldRunID, state.runID),
		logging.Int("processed", report.Processed),
		logging.Int("failed", report.Failed),
		logging.String(logging.FieldEventType, "run_finished"))
	return report, nil
}

// retryEntity reruns the failed stages of one entity with force so a
// fresh attempt sequence starts at zero.
func (o *Orchestrator) retryEntity(ctx context.Context, id string, stages []catalog.Stage, opts RunOptions, state *runState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(stages) == 0 {
		state.finishEntity(id, false)
		return nil
	}

	state.startEntity(id, stages[0])
	o.saveProgress(state)

	entityFailed := false
	for _, stg := range stages {
		entity, err := o.store.Get(id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				// Entity deleted since it failed. Drop its queue entries.
				if _, err := o.failures.Remove(id, stg); err != nil {
					o.logger.Warn("failed to drop orphaned failure entry", logging.Error(err))
				}
				continue
			}
			return err
		}

		record := entity.Stage(stg)
		if record.Status == catalog.StatusCompleted || record.Status == catalog.StatusSkipped {
			// Fixed outside this run; the queue entry is stale.
			if _, err := o.failures.Remove(id, stg); err != nil {
				o.logger.Warn("failed to drop stale failure entry", logging.Error(err))
			}
			state.recordStale(id, stg)
			emit(opts, Event{EntityID: id, Stage: stg, Status: stageexec.ResultSkipped})
			continue
		}

		result, err := o.processor.Process(ctx, id, stg, o.caps.For(stg), true)
		if err != nil {
			if errors.Is(err, stageexec.ErrPrerequisiteNotMet) {
				state.recordBlocked(id, stg, err)
				emit(opts, Event{EntityID: id, Stage: stg, Status: stageexec.ResultFailed, Err: err})
				entityFailed = true
				break
			}
			return err
		}

		state.recordResult(result)
		emit(opts, Event{
			EntityID: id,
			Stage:    stg,
			Status:   result.Status,
			Attempts: result.Attempts,
			Err:      result.Err,
		})

		if result.Failed() {
			o.notifyEntityFailed(ctx, id, result)
			entityFailed = true
			break
		}
	}

	state.finishEntity(id, entityFailed)
	o.saveProgress(state)
	return nil
}

// dryRun reports the work a batch would do without locking, mutating,
// or calling any capability.
func (o *Orchestrator) dryRun(mode Mode, plan []catalog.Stage, opts RunOptions) (*RunReport, error) {
	ids, err := o.selectEntities(plan, opts)
	if err != nil {
		return nil, err
	}

	startedAt := o.now()
	report := newReport(uuid.NewString(), mode, plan, startedAt)
	report.DryRun = true
	report.Selected = len(ids)

	for _, id := range ids {
		entity, err := o.store.Get(id)
		if err != nil {
			return nil, &StructuralError{Reason: "load entity for dry run", Err: err}
		}

		satisfied := make(map[catalog.Stage]bool, len(catalog.AllStages()))
		for _, stg := range catalog.AllStages() {
			status := entity.Stage(stg).Status
			satisfied[stg] = status == catalog.StatusCompleted || status == catalog.StatusSkipped
		}

		for _, stg := range plan {
			action := ActionProcess
			switch {
			case satisfied[stg] && !opts.Force:
				action = ActionSkip
			default:
				prereq, hasPrereq := catalog.Prerequisite(stg)
				if !hasPrereq || satisfied[prereq] {
					satisfied[stg] = true
				} else {
					action = ActionBlocked
					satisfied[stg] = false
				}
			}
			report.Planned = append(report.Planned, PlannedAction{
				EntityID: id,
				Stage:    stg,
				Action:   action,
			})
		}
	}

	report.FinishedAt = o.now()
	return report, nil
}

func (o *Orchestrator) saveProgress(state *runState) {
	if err := o.checkpoints.Save(state.snapshot()); err != nil {
		o.logger.Warn("failed to save checkpoint", logging.Error(err))
	}
}

func (o *Orchestrator) persistReport(report *RunReport) {
	data, err := report.marshal()
	if err != nil {
		o.logger.Warn("failed to encode run report", logging.Error(err))
		return
	}
	path := filepath.Join(o.cfg.Paths.ReportDir, report.fileName())
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		o.logger.Warn("failed to write run report", logging.Error(err))
		return
	}
	report.ReportPath = path
}

func (o *Orchestrator) notifyStart(ctx context.Context, count int) {
	if err := o.notifier.NotifyRunStarted(ctx, count); err != nil {
		o.logger.Warn("run start notification failed", logging.Error(err))
	}
}

func (o *Orchestrator) notifyCompleted(ctx context.Context, report *RunReport) {
	if err := o.notifier.NotifyRunCompleted(ctx, report.Processed, report.Failed, report.Duration()); err != nil {
		o.logger.Warn("run completion notification failed", logging.Error(err))
	}
}

func (o *Orchestrator) notifyEntityFailed(ctx context.Context, id string, result stageexec.Result) {
	name := id
	if entity, err := o.store.Get(id); err == nil {
		name = entity.DisplayName()
	}
	reason := ""
	if result.Err != nil {
		reason = result.Err.Error()
	}
	if err := o.notifier.NotifyEntityFailed(ctx, name, string(result.Stage), reason); err != nil {
		o.logger.Warn("failure notification failed", logging.Error(err))
	}
}

func (o *Orchestrator) asStructural(err error) error {
	if err == nil {
		return nil
	}
	var structural *StructuralError
	if errors.As(err, &structural) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &StructuralError{Reason: "run aborted", Err: err}
}

func emit(opts RunOptions, event Event) {
	if opts.OnProgress != nil {
		opts.OnProgress(event)
	}
}
