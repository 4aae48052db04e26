package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"loom/internal/logging"
)

// Get returns a copy of the entity with the given id.
func (s *Store) Get(id string) (*Entity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("entity id cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	entity, ok := doc.Entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	return entity.Clone(), nil
}

// List returns all entities ordered by creation time, then id, so batch
// runs walk the catalog deterministically.
func (s *Store) List() ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return sortedClones(doc.Entities), nil
}

// Upsert applies a mutation to the entity with the given id, creating a
// fresh all-pending entity first when the id is new. The mutation runs
// inside the store lock against current on-disk state; returning an
// error from it leaves the store untouched.
func (s *Store) Upsert(id string, mutate func(*Entity) error) (*Entity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("entity id cannot be empty")
	}

	var result *Entity
	err := s.withLock(func(doc *document) error {
		entity, ok := doc.Entities[id]
		if !ok {
			entity = NewEntity(id, s.now())
			doc.Entities[id] = entity
		}
		if mutate != nil {
			if err := mutate(entity); err != nil {
				return err
			}
		}
		entity.ID = id
		entity.normalize()
		if err := entity.validate(); err != nil {
			return err
		}
		entity.UpdatedAt = s.now().UTC()
		if err := s.save(doc); err != nil {
			return err
		}
		result = entity.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes an entity. It reports whether the id existed; deleting
// an absent id does not rewrite the file.
func (s *Store) Delete(id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, errors.New("entity id cannot be empty")
	}

	existed := false
	err := s.withLock(func(doc *document) error {
		if _, ok := doc.Entities[id]; !ok {
			return nil
		}
		existed = true
		delete(doc.Entities, id)
		return s.save(doc)
	})
	if err != nil {
		return false, err
	}
	if existed {
		s.logger.Debug("deleted entity", logging.String(logging.FieldEntityID, id))
	}
	return existed, nil
}

// Query returns entities whose record for the stage holds one of the
// given statuses.
func (s *Store) Query(stage Stage, statuses ...Status) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	wanted := make(map[Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	matched := make(map[string]*Entity)
	for id, entity := range doc.Entities {
		if _, ok := wanted[entity.Stage(stage).Status]; ok {
			matched[id] = entity
		}
	}
	return sortedClones(matched), nil
}

// NeedingStage selects the entities a run should feed through the given
// stage: prerequisite satisfied and, unless force is set, stage still
// pending. Force widens the selection to every ready entity so
// completed and failed work is redone.
func (s *Store) NeedingStage(stage Stage, force bool) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	matched := make(map[string]*Entity)
	for id, entity := range doc.Entities {
		if !entity.StageReady(stage) {
			continue
		}
		if !force && entity.Stage(stage).Status != StatusPending {
			continue
		}
		matched[id] = entity
	}
	return sortedClones(matched), nil
}

func sortedClones(entities map[string]*Entity) []*Entity {
	out := make([]*Entity, 0, len(entities))
	for _, entity := range entities {
		out = append(out, entity.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
