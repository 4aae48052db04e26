package catalog_test

import (
	"testing"
	"time"

	"loom/internal/catalog"
)

func TestParseStage(t *testing.T) {
	stage, ok := catalog.ParseStage("  Music ")
	if !ok || stage != catalog.StageMusic {
		t.Fatalf("ParseStage: got %q ok=%v", stage, ok)
	}
	if _, ok := catalog.ParseStage("mastering"); ok {
		t.Fatal("expected unknown stage to be rejected")
	}
}

func TestArtifactExtensions(t *testing.T) {
	exts := catalog.ArtifactExtensions(catalog.StageMusic)
	if len(exts) != 3 || exts[0] != ".mp3" {
		t.Fatalf("music extensions = %v", exts)
	}
	exts[0] = ".ogg"
	if again := catalog.ArtifactExtensions(catalog.StageMusic); again[0] != ".mp3" {
		t.Fatal("callers must not be able to mutate the table")
	}
	if exts := catalog.ArtifactExtensions(catalog.StageVideo); len(exts) != 1 || exts[0] != ".mp4" {
		t.Fatalf("video extensions = %v", exts)
	}
}

func TestPrerequisiteChain(t *testing.T) {
	if _, ok := catalog.Prerequisite(catalog.StageMusic); ok {
		t.Fatal("music must not have a prerequisite")
	}
	prereq, ok := catalog.Prerequisite(catalog.StageImage)
	if !ok || prereq != catalog.StageMusic {
		t.Fatalf("image prerequisite: got %q ok=%v", prereq, ok)
	}
	prereq, ok = catalog.Prerequisite(catalog.StageVideo)
	if !ok || prereq != catalog.StageImage {
		t.Fatalf("video prerequisite: got %q ok=%v", prereq, ok)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    catalog.Status
		to      catalog.Status
		allowed bool
	}{
		{catalog.StatusPending, catalog.StatusProcessing, true},
		{catalog.StatusPending, catalog.StatusSkipped, true},
		{catalog.StatusPending, catalog.StatusCompleted, false},
		{catalog.StatusPending, catalog.StatusFailed, false},
		{catalog.StatusProcessing, catalog.StatusCompleted, true},
		{catalog.StatusProcessing, catalog.StatusFailed, true},
		{catalog.StatusProcessing, catalog.StatusSkipped, false},
		{catalog.StatusFailed, catalog.StatusProcessing, true},
		{catalog.StatusFailed, catalog.StatusCompleted, false},
		{catalog.StatusCompleted, catalog.StatusPending, true},
		{catalog.StatusCompleted, catalog.StatusFailed, false},
		{catalog.StatusSkipped, catalog.StatusPending, true},
		{catalog.StatusSkipped, catalog.StatusProcessing, false},
	}
	for _, tc := range cases {
		if got := catalog.CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestSetStageStatusRejectsForbiddenMove(t *testing.T) {
	entity := catalog.NewEntity("track-1", time.Now())
	if err := entity.SetStageStatus(catalog.StageMusic, catalog.StatusCompleted); err == nil {
		t.Fatal("expected pending -> completed to be rejected")
	}
	if err := entity.SetStageStatus(catalog.StageMusic, catalog.StatusProcessing); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if err := entity.SetStageStatus(catalog.StageMusic, catalog.StatusCompleted); err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
}

func TestRecordFailureBound(t *testing.T) {
	entity := catalog.NewEntity("track-1", time.Now())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 13; i++ {
		entity.RecordFailure(catalog.StageImage, "boom", base.Add(time.Duration(i)*time.Minute))
	}
	if len(entity.ErrorHistory) != 10 {
		t.Fatalf("error history length = %d, want 10", len(entity.ErrorHistory))
	}
	oldest := entity.ErrorHistory[0].Timestamp
	if !oldest.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("oldest retained entry = %s, want %s", oldest, base.Add(3*time.Minute))
	}
	newest := entity.ErrorHistory[len(entity.ErrorHistory)-1].Timestamp
	if !newest.Equal(base.Add(12 * time.Minute)) {
		t.Fatalf("newest entry = %s, want %s", newest, base.Add(12*time.Minute))
	}
}

func TestStageReady(t *testing.T) {
	entity := catalog.NewEntity("track-1", time.Now())
	if !entity.StageReady(catalog.StageMusic) {
		t.Fatal("music must always be ready")
	}
	if entity.StageReady(catalog.StageImage) {
		t.Fatal("image must wait for music")
	}

	entity.Stage(catalog.StageMusic).Status = catalog.StatusCompleted
	if !entity.StageReady(catalog.StageImage) {
		t.Fatal("image should be ready after music completes")
	}

	entity.Stage(catalog.StageImage).Status = catalog.StatusSkipped
	if !entity.StageReady(catalog.StageVideo) {
		t.Fatal("a skipped prerequisite satisfies the next stage")
	}
}

func TestCloneIsDeep(t *testing.T) {
	entity := catalog.NewEntity("track-1", time.Now())
	entity.Stage(catalog.StageMusic).Metadata = map[string]any{"prompt": "calm piano"}
	entity.RecordFailure(catalog.StageMusic, "first", time.Now())

	clone := entity.Clone()
	clone.Stage(catalog.StageMusic).Metadata["prompt"] = "loud drums"
	clone.Stage(catalog.StageMusic).Status = catalog.StatusCompleted
	clone.ErrorHistory[0].Message = "mutated"

	if entity.Stage(catalog.StageMusic).Metadata["prompt"] != "calm piano" {
		t.Fatal("metadata mutation leaked into original")
	}
	if entity.Stage(catalog.StageMusic).Status != catalog.StatusPending {
		t.Fatal("status mutation leaked into original")
	}
	if entity.ErrorHistory[0].Message != "first" {
		t.Fatal("error history mutation leaked into original")
	}
}

func TestDisplayName(t *testing.T) {
	entity := catalog.NewEntity("track-1", time.Now())
	if entity.DisplayName() != "track-1" {
		t.Fatalf("DisplayName = %q", entity.DisplayName())
	}
	entity.Title = "Morning Rain"
	if entity.DisplayName() != "Morning Rain" {
		t.Fatalf("DisplayName = %q", entity.DisplayName())
	}
}
