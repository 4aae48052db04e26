package logging

import (
	"context"
	"log/slog"

	"loom/internal/services"
)

// Shared structured-log field names. Keeping them here prevents drift
// between packages that log the same identifiers.
const (
	FieldComponent = "component"
	FieldEntityID  = "entity_id"
	FieldStage     = "stage"
	FieldRunID     = "run_id"
	FieldEventType = "event_type"
	FieldErrorKind = "error_kind"
	FieldAttempt   = "attempt"
	FieldDuration  = "duration"
	FieldArtifact  = "artifact"
	FieldCount     = "count"
)

// ContextFields extracts pipeline identifiers stored in ctx as attributes.
func ContextFields(ctx context.Context) []Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]Attr, 0, 3)
	if entityID, ok := services.EntityIDFromContext(ctx); ok {
		fields = append(fields, String(FieldEntityID, entityID))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, String(FieldStage, stage))
	}
	if runID, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, String(FieldRunID, runID))
	}
	return fields
}

// WithContext returns a logger carrying whatever pipeline identifiers
// ctx holds, so call sites deep in a capability tag lines without
// threading ids explicitly.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, 0, len(fields))
	for _, attr := range fields {
		args = append(args, attr)
	}
	return logger.With(args...)
}
