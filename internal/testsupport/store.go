package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
)

// MustOpenStore opens a catalog.Store for tests.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.NewStore(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("catalog.NewStore: %v", err)
	}
	return store
}

// SeedEntity registers an entity with every stage pending and returns it.
func SeedEntity(t testing.TB, store *catalog.Store, id string) *catalog.Entity {
	t.Helper()

	entity, err := store.Upsert(id, nil)
	if err != nil {
		t.Fatalf("store.Upsert(%s): %v", id, err)
	}
	return entity
}

// SeedTrack registers an entity whose music stage is already completed,
// pointing at a real file under the configured music directory.
func SeedTrack(t testing.TB, store *catalog.Store, cfg *config.Config, id string) *catalog.Entity {
	t.Helper()

	audioPath := filepath.Join(cfg.Paths.MusicDir, id+".mp3")
	WriteFile(t, audioPath, 2048)

	entity, err := store.Upsert(id, func(e *catalog.Entity) error {
		record := e.Stage(catalog.StageMusic)
		record.Status = catalog.StatusCompleted
		record.ArtifactPath = audioPath
		record.Metadata = map[string]any{"registered_at": time.Now().UTC().Format(time.RFC3339)}
		return nil
	})
	if err != nil {
		t.Fatalf("store.Upsert(%s): %v", id, err)
	}
	return entity
}
