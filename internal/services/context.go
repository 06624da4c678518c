package services

import "context"

type contextKey string

const (
	pipelineIDKey contextKey = "pipeline_id"
	jobIDKey      contextKey = "job_id"
	taskIDKey     contextKey = "task_id"
	stageKey      contextKey = "stage"
	requestIDKey  contextKey = "request_id"
)

// WithPipelineID annotates context with the import pipeline identifier.
func WithPipelineID(ctx context.Context, id string) context.Context {
	return withString(ctx, pipelineIDKey, id)
}

// PipelineIDFromContext extracts the import pipeline identifier if present.
func PipelineIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, pipelineIDKey)
}

// WithJobID annotates context with the fine-tune job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return withString(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the fine-tune job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobIDKey)
}

// WithTaskID annotates context with the queued task identifier.
func WithTaskID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskIDFromContext extracts the queued task identifier if present.
func TaskIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(taskIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithStage annotates context with the pipeline or task stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
