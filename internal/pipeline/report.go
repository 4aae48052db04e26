package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"loom/internal/catalog"
	"loom/internal/checkpoint"
	"loom/internal/services"
	"loom/internal/stageexec"
)

// Mode names the entry point that started a batch.
type Mode string

const (
	ModeRun    Mode = "run"
	ModeStage  Mode = "stage"
	ModeResume Mode = "resume"
	ModeRetry  Mode = "retry"
)

// Event is one progress update, emitted after each stage attempt
// finishes. OnProgress callbacks receive events from worker goroutines
// and must be safe for concurrent use.
type Event struct {
	EntityID string
	Stage    catalog.Stage
	Status   stageexec.ResultStatus
	Attempts int
	Err      error
}

// StageCounts tallies stage outcomes for one stage across the batch.
type StageCounts struct {
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Failure is one failed stage attempt, kept on the report so the
// summary names every entity that needs attention.
type Failure struct {
	EntityID string        `json:"entity_id"`
	Stage    catalog.Stage `json:"stage"`
	Kind     services.Kind `json:"kind,omitempty"`
	Message  string        `json:"message"`
	Attempts int           `json:"attempts"`
}

// Planned action labels used by dry runs.
const (
	ActionProcess = "process"
	ActionSkip    = "skip"
	ActionBlocked = "blocked"
)

// PlannedAction is one entity/stage decision a dry run would take.
type PlannedAction struct {
	EntityID string        `json:"entity_id"`
	Stage    catalog.Stage `json:"stage"`
	Action   string        `json:"action"`
}

// RunReport summarizes one orchestrated batch.
type RunReport struct {
	RunID           string                        `json:"run_id"`
	Mode            Mode                          `json:"mode"`
	DryRun          bool                          `json:"dry_run,omitempty"`
	ResumedFrom     string                        `json:"resumed_from,omitempty"`
	StartedAt       time.Time                     `json:"started_at"`
	FinishedAt      time.Time                     `json:"finished_at"`
	DurationSeconds float64                       `json:"duration_seconds"`
	Stages          []catalog.Stage               `json:"stages"`
	Selected        int                           `json:"selected"`
	Processed       int                           `json:"processed"`
	Failed          int                           `json:"failed"`
	StageCounts     map[catalog.Stage]StageCounts `json:"stage_counts"`
	Failures        []Failure                     `json:"failures,omitempty"`
	Planned         []PlannedAction               `json:"planned,omitempty"`

	// ReportPath is where the report was persisted, empty when writing
	// was skipped or failed. Not part of the persisted document.
	ReportPath string `json:"-"`
}

// Clean reports a batch with no failed entities.
func (r *RunReport) Clean() bool { return r.Failed == 0 }

// Duration is the wall time the batch took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *RunReport) fileName() string {
	stamp := r.StartedAt.UTC().Format("20060102_150405")
	id := r.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("report_%s_%s.json", stamp, id)
}

func (r *RunReport) marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func newReport(runID string, mode Mode, plan []catalog.Stage, startedAt time.Time) *RunReport {
	counts := make(map[catalog.Stage]StageCounts, len(plan))
	for _, stg := range plan {
		counts[stg] = StageCounts{}
	}
	return &RunReport{
		RunID:       runID,
		Mode:        mode,
		StartedAt:   startedAt,
		Stages:      append([]catalog.Stage(nil), plan...),
		StageCounts: counts,
	}
}

// runState is the mutable middle of a batch: progress counters, the
// failure list, and the id sets the checkpoint snapshots come from.
// Workers share one instance, so every mutation holds the mutex.
type runState struct {
	mu sync.Mutex

	runID     string
	mode      Mode
	plan      []catalog.Stage
	startedAt time.Time

	order   []string
	pending map[string]bool

	currentEntity string
	currentStage  catalog.Stage

	completed []string
	processed int
	failed    int
	counts    map[catalog.Stage]StageCounts
	failures  []Failure
}

func newRunState(runID string, mode Mode, plan []catalog.Stage, ids []string, startedAt time.Time) *runState {
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	counts := make(map[catalog.Stage]StageCounts, len(plan))
	for _, stg := range plan {
		counts[stg] = StageCounts{}
	}
	return &runState{
		runID:     runID,
		mode:      mode,
		plan:      append([]catalog.Stage(nil), plan...),
		startedAt: startedAt,
		order:     append([]string(nil), ids...),
		pending:   pending,
		counts:    counts,
	}
}

func (s *runState) startEntity(id string, stg catalog.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentEntity = id
	s.currentStage = stg
}

func (s *runState) finishEntity(id string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[id] {
		s.pending[id] = false
		s.completed = append(s.completed, id)
	}
	if failed {
		s.failed++
	} else {
		s.processed++
	}
	if s.currentEntity == id {
		s.currentEntity = ""
	}
}

func (s *runState) recordResult(result stageexec.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.counts[result.Stage]
	switch result.Status {
	case stageexec.ResultCompleted:
		counts.Completed++
	case stageexec.ResultSkipped:
		counts.Skipped++
	case stageexec.ResultFailed:
		counts.Failed++
		message := ""
		if result.Err != nil {
			message = result.Err.Error()
		}
		s.failures = append(s.failures, Failure{
			EntityID: result.EntityID,
			Stage:    result.Stage,
			Kind:     result.Kind,
			Message:  message,
			Attempts: result.Attempts,
		})
	}
	s.counts[result.Stage] = counts
}

// recordBlocked notes a stage that could not start because its
// prerequisite is unsatisfied. Nothing was attempted, so no failure
// queue entry exists; the report still has to name the entity.
func (s *runState) recordBlocked(id string, stg catalog.Stage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.counts[stg]
	counts.Failed++
	s.counts[stg] = counts
	message := ""
	if err != nil {
		message = err.Error()
	}
	s.failures = append(s.failures, Failure{
		EntityID: id,
		Stage:    stg,
		Message:  message,
	})
}

// recordStale notes a retried stage that no longer needs work because
// the record already reads completed or skipped.
func (s *runState) recordStale(id string, stg catalog.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.counts[stg]
	counts.Skipped++
	s.counts[stg] = counts
}

func (s *runState) snapshot() checkpoint.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if s.pending[id] {
			pending = append(pending, id)
		}
	}
	return checkpoint.Checkpoint{
		RunID:           s.runID,
		StartedAt:       s.startedAt,
		CurrentStage:    s.currentStage,
		CurrentEntityID: s.currentEntity,
		CompletedIDs:    append([]string(nil), s.completed...),
		PendingIDs:      pending,
	}
}

func (s *runState) report(finishedAt time.Time) *RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := newReport(s.runID, s.mode, s.plan, s.startedAt)
	report.FinishedAt = finishedAt
	report.DurationSeconds = finishedAt.Sub(s.startedAt).Seconds()
	report.Selected = len(s.order)
	report.Processed = s.processed
	report.Failed = s.failed
	for stg, counts := range s.counts {
		report.StageCounts[stg] = counts
	}
	report.Failures = append([]Failure(nil), s.failures...)
	return report
}
