package catalog

import (
	"loom/internal/logging"
)

// Summary aggregates catalog state for status output.
type Summary struct {
	Total     int
	ByStage   map[Stage]map[Status]int
	Completed int
	Failed    int
}

// Stats returns per-stage counts of entities grouped by status.
func (s *Store) Stats() (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Total:   len(doc.Entities),
		ByStage: make(map[Stage]map[Status]int, len(stageOrder)),
	}
	for _, stage := range stageOrder {
		summary.ByStage[stage] = make(map[Status]int)
	}

	for _, entity := range doc.Entities {
		allDone := true
		anyFailed := false
		for _, stage := range stageOrder {
			status := entity.Stage(stage).Status
			summary.ByStage[stage][status]++
			if status != StatusCompleted && status != StatusSkipped {
				allDone = false
			}
			if status == StatusFailed {
				anyFailed = true
			}
		}
		if allDone {
			summary.Completed++
		}
		if anyFailed {
			summary.Failed++
		}
	}
	return summary, nil
}

// ResetStuckProcessing resets stages stuck in processing back to
// pending. A processing status found at run start can only come from an
// unclean shutdown; the run-level lock guarantees no other run is live.
func (s *Store) ResetStuckProcessing() (int, error) {
	reset := 0
	err := s.withLock(func(doc *document) error {
		for _, entity := range doc.Entities {
			for _, stage := range stageOrder {
				record := entity.Stage(stage)
				if record.Status != StatusProcessing {
					continue
				}
				record.Status = StatusPending
				entity.UpdatedAt = s.now().UTC()
				reset++
			}
		}
		if reset == 0 {
			return nil
		}
		return s.save(doc)
	})
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		s.logger.Info("reclaimed stale processing stages", logging.Int(logging.FieldCount, reset))
	}
	return reset, nil
}
