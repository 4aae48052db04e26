package failqueue_test

import (
	"testing"
	"time"

	"loom/internal/catalog"
	"loom/internal/failqueue"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/testsupport"
)

func newQueue(t *testing.T) *failqueue.Queue {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	queue, err := failqueue.NewQueue(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	return queue
}

func TestAddListRemove(t *testing.T) {
	queue := newQueue(t)

	task := failqueue.FailedTask{
		EntityID:     "track-1",
		Stage:        catalog.StageImage,
		Kind:         services.KindNetwork,
		ErrorMessage: "connection reset",
		AttemptCount: 3,
	}
	if err := queue.Add(task); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tasks, err := queue.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len = %d, want 1", len(tasks))
	}
	got := tasks[0]
	if got.EntityID != "track-1" || got.Stage != catalog.StageImage {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.Kind != services.KindNetwork {
		t.Fatalf("kind = %s", got.Kind)
	}
	if got.FailedAt.IsZero() {
		t.Fatal("FailedAt not defaulted")
	}

	removed, err := queue.Remove("track-1", catalog.StageImage)
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	removed, err = queue.Remove("track-1", catalog.StageImage)
	if err != nil || removed {
		t.Fatalf("second Remove: removed=%v err=%v", removed, err)
	}
}

func TestAddDeduplicatesOnEntityAndStage(t *testing.T) {
	queue := newQueue(t)

	first := failqueue.FailedTask{
		EntityID:     "track-1",
		Stage:        catalog.StageImage,
		Kind:         services.KindNetwork,
		FailedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		ErrorMessage: "first",
		AttemptCount: 3,
	}
	second := first
	second.Kind = services.KindServer
	second.FailedAt = first.FailedAt.Add(time.Hour)
	second.ErrorMessage = "second"

	if err := queue.Add(first); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := queue.Add(second); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tasks, err := queue.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len = %d, want 1 after dedup", len(tasks))
	}
	if tasks[0].ErrorMessage != "second" || tasks[0].Kind != services.KindServer {
		t.Fatalf("latest failure did not replace the entry: %+v", tasks[0])
	}

	// Same entity, different stage is a distinct entry.
	third := first
	third.Stage = catalog.StageVideo
	if err := queue.Add(third); err != nil {
		t.Fatalf("Add: %v", err)
	}
	count, err := queue.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestListOrderedByFailureTime(t *testing.T) {
	queue := newQueue(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		task := failqueue.FailedTask{
			EntityID: id,
			Stage:    catalog.StageMusic,
			Kind:     services.KindTimeout,
			FailedAt: base.Add(time.Duration(2-i) * time.Minute),
		}
		if err := queue.Add(task); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	tasks, err := queue.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var order []string
	for _, task := range tasks {
		order = append(order, task.EntityID)
	}
	want := []string{"b", "a", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	queue, err := failqueue.NewQueue(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	if err := queue.Add(failqueue.FailedTask{EntityID: "track-1", Stage: catalog.StageMusic, Kind: services.KindAuth}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := failqueue.NewQueue(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	tasks, err := reopened.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || tasks[0].EntityID != "track-1" {
		t.Fatalf("entries lost across reopen: %+v", tasks)
	}
}
