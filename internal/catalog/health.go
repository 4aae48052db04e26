package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// StoreHealth captures diagnostic information about the persisted
// document. Preflight treats an unreadable or corrupt store as a
// structural failure that aborts the run.
type StoreHealth struct {
	Path          string
	Exists        bool
	Readable      bool
	SchemaVersion int
	TotalEntities int
	BackupExists  bool
	Error         string
}

// CheckHealth inspects the persisted document without mutating it.
func (s *Store) CheckHealth() (StoreHealth, error) {
	health := StoreHealth{Path: s.path}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// A store that does not exist yet is healthy: the first
			// write creates it.
			health.Readable = true
			health.SchemaVersion = schemaVersion
			return health, nil
		}
		health.Error = err.Error()
		return health, fmt.Errorf("stat entity store: %w", err)
	}
	if info.IsDir() {
		health.Error = "path is a directory"
		return health, fmt.Errorf("entity store path %q is a directory", s.path)
	}
	health.Exists = true

	if _, err := os.Stat(s.backupPath); err == nil {
		health.BackupExists = true
	}

	s.mu.RLock()
	doc, err := s.load()
	s.mu.RUnlock()
	if err != nil {
		health.Error = err.Error()
		return health, err
	}

	health.Readable = true
	health.SchemaVersion = doc.Metadata.SchemaVersion
	if health.SchemaVersion == 0 {
		health.SchemaVersion = schemaVersion
	}
	health.TotalEntities = len(doc.Entities)
	return health, nil
}
