package catalog

import (
	"strings"
	"time"
)

// Stage names one of the three ordered pipeline stages.
type Stage string

const (
	StageMusic Stage = "music"
	StageImage Stage = "image"
	StageVideo Stage = "video"
)

// stageOrder fixes the pipeline sequence. Image generation needs music
// metadata and video composition needs both prior artifacts, so the
// order is never changed.
var stageOrder = []Stage{StageMusic, StageImage, StageVideo}

// AllStages returns the pipeline stages in execution order.
func AllStages() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	for _, stage := range stageOrder {
		if stage == normalized {
			return stage, true
		}
	}
	return "", false
}

// artifactExtensions lists the recognized artifact extensions per
// stage, in lookup order.
var artifactExtensions = map[Stage][]string{
	StageMusic: {".mp3", ".wav", ".flac"},
	StageImage: {".png", ".jpg", ".jpeg"},
	StageVideo: {".mp4"},
}

// ArtifactExtensions returns the recognized artifact extensions for
// the stage, in lookup order.
func ArtifactExtensions(stage Stage) []string {
	exts := artifactExtensions[stage]
	cp := make([]string, len(exts))
	copy(cp, exts)
	return cp
}

// Prerequisite returns the stage that must finish before the given stage
// may run. The first stage has none.
func Prerequisite(stage Stage) (Stage, bool) {
	for i, candidate := range stageOrder {
		if candidate == stage {
			if i == 0 {
				return "", false
			}
			return stageOrder[i-1], true
		}
	}
	return "", false
}

// StageIndex returns the position of the stage in execution order, or
// -1 for an unknown stage.
func StageIndex(stage Stage) int {
	for i, candidate := range stageOrder {
		if candidate == stage {
			return i
		}
	}
	return -1
}

// Status represents the lifecycle of one stage for one entity.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusSkipped,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// allowedTransitions is the per-stage status lattice. A failure episode
// always passes through processing, and skipped is reachable only from
// pending. The arcs back to pending cover reconciliation (artifact
// missing on disk, needs regeneration) and stale-processing recovery
// after an unclean shutdown.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPending:    true,
		StatusProcessing: true,
		StatusSkipped:    true,
	},
	StatusProcessing: {
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusPending:    true,
	},
	StatusCompleted: {
		StatusCompleted: true,
		StatusPending:   true,
	},
	StatusFailed: {
		StatusFailed:     true,
		StatusProcessing: true,
		StatusPending:    true,
	},
	StatusSkipped: {
		StatusSkipped: true,
		StatusPending: true,
	},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// CanTransition reports whether a stage may move from one status to
// another.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsKnownStatus reports whether the value is part of the lifecycle.
func IsKnownStatus(status Status) bool {
	_, ok := statusSet[status]
	return ok
}

// maxErrorHistory bounds the per-entity failure log. Oldest entries are
// evicted first.
const maxErrorHistory = 10

// ErrorEvent is one recorded stage failure.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message"`
}

// StageRecord is the per-stage state for one entity. Metadata is an
// opaque payload owned by the capability that produced the artifact
// (prompt used, resolution, duration); the core never interprets it.
type StageRecord struct {
	Status       Status         `json:"status"`
	ArtifactPath string         `json:"artifact_path,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Entity is one unit of content moving through the pipeline.
type Entity struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title,omitempty"`
	Prompt       string                 `json:"prompt,omitempty"`
	Style        string                 `json:"style,omitempty"`
	Stages       map[Stage]*StageRecord `json:"stages"`
	ErrorHistory []ErrorEvent           `json:"error_history,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// NewEntity builds an entity with every stage pending.
func NewEntity(id string, now time.Time) *Entity {
	entity := &Entity{
		ID:        id,
		Stages:    make(map[Stage]*StageRecord, len(stageOrder)),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	for _, stage := range stageOrder {
		entity.Stages[stage] = &StageRecord{Status: StatusPending}
	}
	return entity
}

// DisplayName returns the title when present, otherwise the id.
func (e *Entity) DisplayName() string {
	if title := strings.TrimSpace(e.Title); title != "" {
		return title
	}
	return e.ID
}

// Stage returns the record for the named stage, creating a pending one
// if a loaded document predates the stage.
func (e *Entity) Stage(stage Stage) *StageRecord {
	if e.Stages == nil {
		e.Stages = make(map[Stage]*StageRecord, len(stageOrder))
	}
	record, ok := e.Stages[stage]
	if !ok || record == nil {
		record = &StageRecord{Status: StatusPending}
		e.Stages[stage] = record
	}
	return record
}

// SetStageStatus moves a stage to the given status, enforcing the
// transition lattice.
func (e *Entity) SetStageStatus(stage Stage, status Status) error {
	record := e.Stage(stage)
	if !CanTransition(record.Status, status) {
		return &TransitionError{EntityID: e.ID, Stage: stage, From: record.Status, To: status}
	}
	record.Status = status
	return nil
}

// RecordFailure appends a failure to the bounded error history.
func (e *Entity) RecordFailure(stage Stage, message string, now time.Time) {
	e.ErrorHistory = append(e.ErrorHistory, ErrorEvent{
		Timestamp: now.UTC(),
		Stage:     stage,
		Message:   message,
	})
	if excess := len(e.ErrorHistory) - maxErrorHistory; excess > 0 {
		e.ErrorHistory = append(e.ErrorHistory[:0:0], e.ErrorHistory[excess:]...)
	}
}

// StageReady reports whether the stage's prerequisite is satisfied.
// A skipped prerequisite counts: skipping asserts the artifact already
// exists on disk.
func (e *Entity) StageReady(stage Stage) bool {
	prereq, ok := Prerequisite(stage)
	if !ok {
		return true
	}
	switch e.Stage(prereq).Status {
	case StatusCompleted, StatusSkipped:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy so callers can mutate results freely.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Stages = make(map[Stage]*StageRecord, len(e.Stages))
	for stage, record := range e.Stages {
		if record == nil {
			cp.Stages[stage] = &StageRecord{Status: StatusPending}
			continue
		}
		recordCopy := *record
		if record.Metadata != nil {
			recordCopy.Metadata = make(map[string]any, len(record.Metadata))
			for k, v := range record.Metadata {
				recordCopy.Metadata[k] = v
			}
		}
		cp.Stages[stage] = &recordCopy
	}
	if e.ErrorHistory != nil {
		cp.ErrorHistory = make([]ErrorEvent, len(e.ErrorHistory))
		copy(cp.ErrorHistory, e.ErrorHistory)
	}
	return &cp
}

// normalize repairs a loaded entity: missing stage records become
// pending and unknown statuses are rejected by validate, not here.
func (e *Entity) normalize() {
	for _, stage := range stageOrder {
		e.Stage(stage)
	}
}

// validate rejects documents whose statuses fall outside the lifecycle.
func (e *Entity) validate() error {
	for _, stage := range stageOrder {
		record := e.Stage(stage)
		if !IsKnownStatus(record.Status) {
			return &CorruptError{EntityID: e.ID, Detail: "unknown status " + string(record.Status) + " on stage " + string(stage)}
		}
	}
	return nil
}
