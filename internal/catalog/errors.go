package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a lookup for an entity id the store does not hold.
var ErrNotFound = errors.New("entity not found")

// TransitionError reports a stage status change the lattice forbids.
type TransitionError struct {
	EntityID string
	Stage    Stage
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid stage transition: %s/%s %q -> %q", e.EntityID, e.Stage, e.From, e.To)
}

// CorruptError reports a persisted document that cannot be trusted. It
// aborts runs at preflight rather than letting a half-readable store
// drive stage decisions.
type CorruptError struct {
	EntityID string
	Detail   string
}

func (e *CorruptError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("corrupt entity store: entity %s: %s", e.EntityID, e.Detail)
	}
	return fmt.Sprintf("corrupt entity store: %s", e.Detail)
}
