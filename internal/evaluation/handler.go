package evaluation

import (
	"context"

	"bhasha/internal/logging"
	"bhasha/internal/queue"
	"bhasha/internal/workflow"
)

// TaskRun is the periodic queue kind that evaluates pending prompts.
const TaskRun = "evaluation.run"

// RunHandler runs TaskRun.
type RunHandler struct {
	service *Service
}

// NewRunHandler wraps s.
func NewRunHandler(s *Service) *RunHandler {
	return &RunHandler{service: s}
}

// Handle evaluates every pending prompt whose job has finished.
func (h *RunHandler) Handle(ctx context.Context, _ *queue.Task) error {
	n, err := h.service.ProcessPending(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.WithContext(ctx, h.service.logger).Info("evaluated pending prompts", logging.Int("prompts", n))
	}
	return nil
}

// HealthCheck reports whether completions can be requested.
func (h *RunHandler) HealthCheck(context.Context) workflow.StageHealth {
	if !h.service.configured {
		return workflow.UnhealthyStage(TaskRun, "openai api key not configured")
	}
	return workflow.HealthyStage(TaskRun)
}
