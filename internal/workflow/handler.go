package workflow

import (
	"context"
	"time"

	"bhasha/internal/queue"
)

// Handler executes one task kind.
type Handler interface {
	Handle(ctx context.Context, task *queue.Task) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *queue.Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task *queue.Task) error {
	return f(ctx, task)
}

// HealthReporter is implemented by handlers that can report readiness.
type HealthReporter interface {
	HealthCheck(ctx context.Context) StageHealth
}

type periodicTrigger struct {
	kind     string
	interval time.Duration
}
