// Package failqueue persists terminally-failed (entity, stage) pairs so
// operators can triage and retry without scanning the whole catalog.
// Entries stay until a later attempt succeeds or an operator dismisses
// them.
package failqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/fileutil"
	"loom/internal/logging"
	"loom/internal/services"
)

// FailedTask records one terminal stage failure.
type FailedTask struct {
	EntityID     string        `json:"entity_id"`
	Stage        catalog.Stage `json:"stage"`
	Kind         services.Kind `json:"kind"`
	FailedAt     time.Time     `json:"failed_at"`
	ErrorMessage string        `json:"error_message"`
	AttemptCount int           `json:"attempt_count"`
}

// Queue is the durable failure list. One entry exists per (entity,
// stage) pair; re-adding replaces the previous entry for that pair.
type Queue struct {
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
	now    func() time.Time
}

// NewQueue opens the failure queue at the configured state path.
func NewQueue(cfg *config.Config, logger *slog.Logger) (*Queue, error) {
	if cfg == nil {
		return nil, errors.New("failqueue: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	path := cfg.FailureQueuePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Queue{
		path:   path,
		logger: logging.NewComponentLogger(logger, "failqueue"),
		now:    time.Now,
	}, nil
}

// Add records a terminal failure, replacing any previous entry for the
// same (entity, stage) pair.
func (q *Queue) Add(task FailedTask) error {
	task.EntityID = strings.TrimSpace(task.EntityID)
	if task.EntityID == "" {
		return errors.New("entity id cannot be empty")
	}
	if task.Stage == "" {
		return errors.New("stage cannot be empty")
	}
	if task.FailedAt.IsZero() {
		task.FailedAt = q.now().UTC()
	}
	if task.Kind == "" {
		task.Kind = services.KindUnknown
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, err := q.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range tasks {
		if tasks[i].EntityID == task.EntityID && tasks[i].Stage == task.Stage {
			tasks[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		tasks = append(tasks, task)
	}

	if err := q.save(tasks); err != nil {
		return err
	}
	q.logger.Debug("recorded failed task",
		logging.String(logging.FieldEntityID, task.EntityID),
		logging.String(logging.FieldStage, string(task.Stage)),
		logging.String(logging.FieldErrorKind, string(task.Kind)))
	return nil
}

// List returns all entries ordered by failure time, then entity id.
func (q *Queue) List() ([]FailedTask, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	tasks, err := q.load()
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

// Remove deletes the entry for the (entity, stage) pair and reports
// whether one existed.
func (q *Queue) Remove(entityID string, stage catalog.Stage) (bool, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return false, errors.New("entity id cannot be empty")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, err := q.load()
	if err != nil {
		return false, err
	}

	kept := tasks[:0]
	removed := false
	for _, task := range tasks {
		if task.EntityID == entityID && task.Stage == stage {
			removed = true
			continue
		}
		kept = append(kept, task)
	}
	if !removed {
		return false, nil
	}
	if err := q.save(kept); err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the number of recorded failures.
func (q *Queue) Count() (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	tasks, err := q.load()
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func (q *Queue) load() ([]FailedTask, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read failure queue: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var tasks []FailedTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse failure queue: %w", err)
	}
	return tasks, nil
}

func (q *Queue) save(tasks []FailedTask) error {
	sortTasks(tasks)
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failure queue: %w", err)
	}
	if err := fileutil.WriteFileAtomic(q.path, data, 0o644); err != nil {
		return fmt.Errorf("write failure queue: %w", err)
	}
	return nil
}

func sortTasks(tasks []FailedTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].FailedAt.Equal(tasks[j].FailedAt) {
			if tasks[i].EntityID == tasks[j].EntityID {
				return tasks[i].Stage < tasks[j].Stage
			}
			return tasks[i].EntityID < tasks[j].EntityID
		}
		return tasks[i].FailedAt.Before(tasks[j].FailedAt)
	})
}
