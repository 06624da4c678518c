package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bhasha/internal/logging"
	"bhasha/internal/queue"
	"bhasha/internal/services"
)

func (m *Manager) processTask(ctx context.Context, task *queue.Task) error {
	requestID := uuid.NewString()
	taskCtx := withTaskContext(ctx, task, requestID)
	taskLogger := logging.WithContext(taskCtx, m.logger).With(
		logging.String(logging.FieldTaskKind, task.Kind),
	)

	handler, ok := m.handlerFor(task.Kind)
	if !ok {
		err := services.Wrap(services.ErrConfiguration, "workflow", "dispatch",
			fmt.Sprintf("no handler registered for task kind %q", task.Kind), nil)
		m.handleTaskFailure(taskCtx, taskLogger, task, err)
		return err
	}
	return m.executeTask(taskCtx, taskLogger, handler, task)
}

func (m *Manager) executeTask(ctx context.Context, taskLogger *slog.Logger, handler Handler, task *queue.Task) error {
	start := time.Now()
	taskLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", task.Attempts),
		logging.String("task_key", task.Key),
	)

	if err := handler.Handle(ctx, task); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			taskLogger.Debug("task interrupted by shutdown")
			return err
		}
		m.handleTaskFailure(ctx, taskLogger, task, err)
		return err
	}

	if err := m.queue.Complete(ctx, task.ID); err != nil {
		wrapped := fmt.Errorf("persist task result: %w", err)
		taskLogger.Error("failed to persist task result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	task.Status = queue.StatusDone
	taskLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(start)),
	)
	m.recordOutcome(task, false)
	return nil
}

func withTaskContext(ctx context.Context, task *queue.Task, requestID string) context.Context {
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithStage(ctx, task.Kind)
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}
