package checkpoint_test

import (
	"testing"
	"time"

	"loom/internal/catalog"
	"loom/internal/checkpoint"
	"loom/internal/logging"
	"loom/internal/testsupport"
)

func newManager(t *testing.T) *checkpoint.Manager {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	manager, err := checkpoint.NewManager(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func TestSaveLoadClear(t *testing.T) {
	manager := newManager(t)

	if manager.Exists() {
		t.Fatal("fresh manager must report no checkpoint")
	}
	loaded, err := manager.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil checkpoint, got %+v", loaded)
	}

	cp := checkpoint.Checkpoint{
		RunID:           "run-1",
		StartedAt:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		CurrentStage:    catalog.StageImage,
		CurrentEntityID: "track-2",
		CompletedIDs:    []string{"track-1"},
		PendingIDs:      []string{"track-2", "track-3"},
	}
	if err := manager.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !manager.Exists() {
		t.Fatal("checkpoint must exist after save")
	}

	loaded, err = manager.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected checkpoint")
	}
	if !loaded.IsRunning {
		t.Fatal("IsRunning must be set while the checkpoint exists")
	}
	if loaded.RunID != "run-1" || loaded.CurrentStage != catalog.StageImage {
		t.Fatalf("unexpected checkpoint: %+v", loaded)
	}
	if loaded.LastUpdated.IsZero() {
		t.Fatal("LastUpdated not stamped")
	}

	if err := manager.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if manager.Exists() {
		t.Fatal("checkpoint must be gone after clear")
	}
	// Clearing again is fine.
	if err := manager.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestResumePending(t *testing.T) {
	cp := checkpoint.Checkpoint{
		CurrentEntityID: "b",
		CompletedIDs:    []string{"a"},
		PendingIDs:      []string{"a", "b", "c", "d"},
	}
	got := cp.ResumePending()
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("ResumePending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ResumePending = %v, want %v", got, want)
		}
	}
}

func TestResumePendingCurrentNotInPending(t *testing.T) {
	cp := checkpoint.Checkpoint{
		CurrentEntityID: "x",
		CompletedIDs:    []string{},
		PendingIDs:      []string{"y"},
	}
	got := cp.ResumePending()
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("ResumePending = %v, want [x y]", got)
	}
}

func TestResumePendingCompletedCurrent(t *testing.T) {
	cp := checkpoint.Checkpoint{
		CurrentEntityID: "a",
		CompletedIDs:    []string{"a", "b"},
		PendingIDs:      []string{"a", "b", "c"},
	}
	got := cp.ResumePending()
	if len(got) != 1 || got[0] != "c" {
		t.Fatalf("ResumePending = %v, want [c]", got)
	}
}

func TestSaveSurvivesReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	manager, err := checkpoint.NewManager(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := manager.Save(checkpoint.Checkpoint{RunID: "run-9", PendingIDs: []string{"a"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := checkpoint.NewManager(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	loaded, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil || loaded.RunID != "run-9" {
		t.Fatalf("checkpoint lost across reopen: %+v", loaded)
	}
}
