package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
)

// Policy is the reconcile behavior for artifacts the catalog records
// but the disk no longer holds.
type Policy string

const (
	// PolicyWarn logs each missing artifact and changes nothing.
	PolicyWarn Policy = "warn"
	// PolicyRemove deletes entities whose source audio is gone.
	// Derived stages fall back to PolicyReset.
	PolicyRemove Policy = "remove"
	// PolicyReset returns the stage to pending so the next run
	// regenerates the artifact.
	PolicyReset Policy = "reset"
)

// ParsePolicy maps a config value to a Policy. The empty string means
// PolicyWarn.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyWarn:
		return PolicyWarn, nil
	case PolicyRemove:
		return PolicyRemove, nil
	case PolicyReset:
		return PolicyReset, nil
	default:
		return "", fmt.Errorf("unknown missing-artifacts policy %q", value)
	}
}

// DiscoverReport summarizes one intake pass over the music directory.
type DiscoverReport struct {
	AudioFiles int      // supported audio files seen
	Registered []string // entity ids created this pass
	Skipped    int      // hidden or unsupported files ignored
}

// MissingArtifact names one artifact the catalog records but the disk
// no longer holds.
type MissingArtifact struct {
	EntityID string
	Stage    catalog.Stage
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Policy  Policy
	Missing []MissingArtifact // every gap found, regardless of policy
	Removed []string          // entity ids deleted by PolicyRemove
	Reset   []MissingArtifact // stages returned to pending
}

// Scanner keeps the catalog and the artifact directories in agreement.
type Scanner struct {
	cfg    *config.Config
	store  *catalog.Store
	logger *slog.Logger
}

// New builds a scanner over the given store.
func New(cfg *config.Config, store *catalog.Store, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "scan"),
	}
}

// Discover registers every supported audio file in the music directory
// that has no catalog entry yet. The file stem becomes the entity id
// and the music stage is marked skipped: the artifact already exists,
// so a later run starts at the image stage.
func (s *Scanner) Discover() (DiscoverReport, error) {
	var report DiscoverReport

	entries, err := os.ReadDir(s.cfg.Paths.MusicDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report, nil
		}
		return report, fmt.Errorf("read music directory: %w", err)
	}

	supported := make(map[string]bool)
	for _, ext := range catalog.ArtifactExtensions(catalog.StageMusic) {
		supported[ext] = true
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			report.Skipped++
			continue
		}
		if !supported[strings.ToLower(filepath.Ext(name))] {
			report.Skipped++
			continue
		}
		report.AudioFiles++
		ids = append(ids, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(ids)

	known := make(map[string]bool)
	existing, err := s.store.List()
	if err != nil {
		return report, err
	}
	for _, entity := range existing {
		known[entity.ID] = true
	}

	for _, id := range ids {
		if known[id] {
			continue
		}
		if _, err := s.store.Upsert(id, func(e *catalog.Entity) error {
			return e.SetStageStatus(catalog.StageMusic, catalog.StatusSkipped)
		}); err != nil {
			return report, fmt.Errorf("register %s: %w", id, err)
		}
		known[id] = true
		report.Registered = append(report.Registered, id)
		s.logger.Info("registered discovered track",
			logging.String(logging.FieldEntityID, id),
			logging.String(logging.FieldEventType, "track_registered"))
	}

	s.logger.Info("discovery finished",
		logging.Int("audio_files", report.AudioFiles),
		logging.Int(logging.FieldCount, len(report.Registered)))
	return report, nil
}

// Reconcile walks the catalog looking for completed or skipped stages
// whose artifact is gone from both its recorded path and the
// conventional location, then applies the configured policy to each
// gap.
func (s *Scanner) Reconcile() (ReconcileReport, error) {
	policy, err := ParsePolicy(s.cfg.Pipeline.MissingArtifacts)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Policy: policy}

	entities, err := s.store.List()
	if err != nil {
		return report, err
	}

	for _, entity := range entities {
		removed := false
		for _, stage := range catalog.AllStages() {
			record := entity.Stage(stage)
			switch record.Status {
			case catalog.StatusCompleted, catalog.StatusSkipped:
			default:
				continue
			}
			if s.artifactPresent(entity.ID, stage, record.ArtifactPath) {
				continue
			}

			gap := MissingArtifact{EntityID: entity.ID, Stage: stage}
			report.Missing = append(report.Missing, gap)
			s.logger.Warn("artifact missing from disk",
				logging.String(logging.FieldEntityID, entity.ID),
				logging.String(logging.FieldStage, string(stage)),
				logging.String(logging.FieldEventType, "artifact_missing"))

			switch {
			case policy == PolicyWarn:
			case policy == PolicyRemove && stage == catalog.StageMusic:
				if _, err := s.store.Delete(entity.ID); err != nil {
					return report, fmt.Errorf("remove %s: %w", entity.ID, err)
				}
				report.Removed = append(report.Removed, entity.ID)
				removed = true
				s.logger.Info("removed entity without source audio",
					logging.String(logging.FieldEntityID, entity.ID))
			default:
				if _, err := s.store.Upsert(entity.ID, func(e *catalog.Entity) error {
					rec := e.Stage(stage)
					rec.ArtifactPath = ""
					rec.Metadata = nil
					rec.AttemptCount = 0
					return e.SetStageStatus(stage, catalog.StatusPending)
				}); err != nil {
					return report, fmt.Errorf("reset %s stage %s: %w", entity.ID, stage, err)
				}
				report.Reset = append(report.Reset, gap)
				s.logger.Info("stage reset, artifact will be regenerated",
					logging.String(logging.FieldEntityID, entity.ID),
					logging.String(logging.FieldStage, string(stage)))
			}
			if removed {
				break
			}
		}
	}

	if len(report.Missing) > 0 {
		s.logger.Info("reconcile finished",
			logging.Int(logging.FieldCount, len(report.Missing)),
			logging.String("policy", string(policy)))
	}
	return report, nil
}

// artifactPresent reports whether the stage artifact exists at its
// recorded path or at a conventional location.
func (s *Scanner) artifactPresent(id string, stage catalog.Stage, recorded string) bool {
	if recorded != "" {
		if _, err := os.Stat(recorded); err == nil {
			return true
		}
	}
	dir := s.stageDir(stage)
	for _, ext := range catalog.ArtifactExtensions(stage) {
		if _, err := os.Stat(filepath.Join(dir, id+ext)); err == nil {
			return true
		}
	}
	return false
}

func (s *Scanner) stageDir(stage catalog.Stage) string {
	switch stage {
	case catalog.StageMusic:
		return s.cfg.Paths.MusicDir
	case catalog.StageImage:
		return s.cfg.Paths.ImageDir
	default:
		return s.cfg.Paths.VideoDir
	}
}
