// Package checkpoint records in-flight batch progress so a crash mid-run
// can resume without redoing finished work. The file exists only while a
// run is live or after an unclean shutdown; a clean completion deletes
// it, so its presence at startup is the resume signal.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/fileutil"
	"loom/internal/logging"
)

// Checkpoint is the singleton record describing one in-progress run.
type Checkpoint struct {
	RunID           string        `json:"run_id"`
	IsRunning       bool          `json:"is_running"`
	StartedAt       time.Time     `json:"started_at"`
	CurrentStage    catalog.Stage `json:"current_stage"`
	CurrentEntityID string        `json:"current_entity_id"`
	CompletedIDs    []string      `json:"completed_ids"`
	PendingIDs      []string      `json:"pending_ids"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// ResumePending derives the ids a resumed run must still process:
// (pending union current) minus completed, preserving pending order.
// The interrupted current entity goes first since its stage attempt may
// not have been applied.
func (c *Checkpoint) ResumePending() []string {
	completed := make(map[string]struct{}, len(c.CompletedIDs))
	for _, id := range c.CompletedIDs {
		completed[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(c.PendingIDs)+1)
	out := make([]string, 0, len(c.PendingIDs)+1)

	appendID := func(id string) {
		if id == "" {
			return
		}
		if _, done := completed[id]; done {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	appendID(c.CurrentEntityID)
	for _, id := range c.PendingIDs {
		appendID(id)
	}
	return out
}

// Manager persists the checkpoint record atomically.
type Manager struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewManager opens the checkpoint at the configured state path.
func NewManager(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("checkpoint: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	path := cfg.CheckpointPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Manager{
		path:   path,
		logger: logging.NewComponentLogger(logger, "checkpoint"),
		now:    time.Now,
	}, nil
}

// Save persists the checkpoint. CompletedIDs are stored sorted so the
// on-disk document is deterministic; PendingIDs keep their batch order.
func (m *Manager) Save(cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp.IsRunning = true
	cp.LastUpdated = m.now().UTC()
	if cp.StartedAt.IsZero() {
		cp.StartedAt = cp.LastUpdated
	}
	if cp.CompletedIDs == nil {
		cp.CompletedIDs = []string{}
	} else {
		cp.CompletedIDs = append([]string(nil), cp.CompletedIDs...)
		sort.Strings(cp.CompletedIDs)
	}
	if cp.PendingIDs == nil {
		cp.PendingIDs = []string{}
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := fileutil.WriteFileAtomic(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load returns the stored checkpoint, or nil when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// Clear deletes the checkpoint. Clearing an absent checkpoint is not an
// error.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	m.logger.Debug("cleared checkpoint")
	return nil
}

// Exists reports whether a checkpoint file is present.
func (m *Manager) Exists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.path)
	return err == nil && !info.IsDir()
}
