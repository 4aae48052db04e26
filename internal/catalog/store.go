package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"loom/internal/config"
	"loom/internal/fileutil"
	"loom/internal/logging"
)

// schemaVersion is written into every persisted document. Loads reject
// documents from a newer schema instead of guessing at their layout.
const schemaVersion = 1

// Metadata is the document header persisted alongside the entities.
type Metadata struct {
	TotalEntities int       `json:"total_entities"`
	LastUpdated   time.Time `json:"last_updated"`
	SchemaVersion int       `json:"schema_version"`
}

type document struct {
	Metadata Metadata           `json:"metadata"`
	Entities map[string]*Entity `json:"entities"`
}

func newDocument() *document {
	return &document{
		Metadata: Metadata{SchemaVersion: schemaVersion},
		Entities: make(map[string]*Entity),
	}
}

// Store is the durable entity catalog. Every operation is a fresh
// load-mutate-save cycle against the JSON document on disk, so the file
// stays the single source of truth across processes. Writers serialize
// through an in-process mutex plus a cross-process file lock; readers
// rely on the writer's atomic rename and may observe a stale-but-intact
// snapshot.
type Store struct {
	path       string
	backupPath string
	logger     *slog.Logger
	mu         sync.RWMutex
	flk        *flock.Flock
	now        func() time.Time
}

// NewStore opens the catalog at the configured state paths. The backing
// file is created lazily on the first write.
func NewStore(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("catalog: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	path := cfg.EntityStorePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &Store{
		path:       path,
		backupPath: path + ".bak",
		logger:     logging.NewComponentLogger(logger, "catalog"),
		flk:        flock.New(cfg.StoreLockPath()),
		now:        time.Now,
	}, nil
}

// Path returns the location of the persisted document.
func (s *Store) Path() string {
	return s.path
}

// withLock serializes a load-mutate-save cycle against concurrent
// writers in this process and in others.
func (s *Store) withLock(fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	defer func() {
		if err := s.flk.Unlock(); err != nil {
			s.logger.Warn("release store lock", logging.Error(err))
		}
	}()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

// load reads and validates the document. A missing or empty file is a
// fresh start, not an error.
func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newDocument(), nil
		}
		return nil, fmt.Errorf("read entity store: %w", err)
	}
	if len(data) == 0 {
		return newDocument(), nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptError{Detail: fmt.Sprintf("parse %s: %v", s.path, err)}
	}
	if doc.Metadata.SchemaVersion > schemaVersion {
		return nil, &CorruptError{Detail: fmt.Sprintf("schema version %d is newer than supported %d", doc.Metadata.SchemaVersion, schemaVersion)}
	}
	if doc.Entities == nil {
		doc.Entities = make(map[string]*Entity)
	}
	for id, entity := range doc.Entities {
		if entity == nil {
			return nil, &CorruptError{EntityID: id, Detail: "null entity record"}
		}
		if entity.ID == "" {
			entity.ID = id
		}
		entity.normalize()
		if err := entity.validate(); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

// save persists the document: the previous version is first preserved
// as a backup, then the new content lands via temp file + rename. A
// failed backup aborts the write so the prior state is never lost.
func (s *Store) save(doc *document) error {
	doc.Metadata.TotalEntities = len(doc.Entities)
	doc.Metadata.LastUpdated = s.now().UTC()
	doc.Metadata.SchemaVersion = schemaVersion

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entity store: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := fileutil.CopyFileVerified(s.path, s.backupPath); err != nil {
			return fmt.Errorf("back up entity store: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat entity store: %w", err)
	}

	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write entity store: %w", err)
	}
	return nil
}
