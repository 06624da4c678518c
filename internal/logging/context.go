package logging

import (
	"context"
	"log/slog"

	"bhasha/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldPipelineID is the standardized structured logging key for import pipeline identifiers.
	FieldPipelineID = "pipeline_id"
	// FieldJobID is the standardized structured logging key for fine-tune job identifiers.
	FieldJobID = "job_id"
	// FieldDatasetID is the standardized structured logging key for dataset identifiers.
	FieldDatasetID = "dataset_id"
	// FieldContentID is the standardized structured logging key for content item identifiers.
	FieldContentID = "content_id"
	// FieldTaskID is the standardized structured logging key for queued task identifiers.
	FieldTaskID = "task_id"
	// FieldTaskKind is the standardized structured logging key for queued task kinds.
	FieldTaskKind = "task_kind"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldProvider is the standardized structured logging key for fine-tuning provider names.
	FieldProvider = "provider"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType names the event a log line records (stage_start, stage_failure, ...).
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries the services.ErrorKind classification.
	FieldErrorKind = "error_kind"
	// FieldErrorOperation carries the failing operation name.
	FieldErrorOperation = "error_operation"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.PipelineIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPipelineID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if id, ok := services.TaskIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldTaskID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
