package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"bhasha/internal/logging"
	"bhasha/internal/queue"
	"bhasha/internal/services"
)

func (m *Manager) handleTaskFailure(ctx context.Context, logger *slog.Logger, task *queue.Task, taskErr error) {
	message := classifyTaskFailure(task.Kind, taskErr)
	retry := m.shouldRetry(task, taskErr)

	resolved := queue.StatusFailed
	if retry {
		resolved = queue.StatusPending
	}
	attrs := []logging.Attr{
		logging.String("resolved_status", string(resolved)),
		logging.Int("attempt", task.Attempts),
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
	}
	attrs = append(attrs, logging.ErrorAttrs(taskErr)...)
	attrs = append(attrs, logging.String(logging.FieldEventType, "stage_failure"))
	logger.Error("stage failed", logging.Args(attrs...)...)

	var err error
	if retry {
		err = m.queue.Retry(ctx, task.ID, message, m.retryInterval)
	} else {
		err = m.queue.Fail(ctx, task.ID, message)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not update task failure")
		} else {
			logger.Error("failed to persist task failure", logging.Error(err))
		}
	}

	task.Status = resolved
	task.LastError = message
	m.setLastError(taskErr)
	m.recordOutcome(task, !retry)
}

func (m *Manager) shouldRetry(task *queue.Task, err error) bool {
	if services.IsFatal(err) {
		return false
	}
	return m.maxAttempts <= 0 || task.Attempts < m.maxAttempts
}

func classifyTaskFailure(kind string, taskErr error) string {
	if taskErr == nil {
		return kind + " failed without error detail"
	}
	message := strings.TrimSpace(services.Details(taskErr).Message)
	if message == "" {
		message = strings.TrimSpace(taskErr.Error())
	}
	if message == "" {
		message = kind + " failed"
	}
	return message
}
