package finetune

import (
	"context"
	"fmt"
	"strings"

	"bhasha/internal/logging"
	"bhasha/internal/queue"
	"bhasha/internal/workflow"
)

// TaskPoll is the periodic queue kind that refreshes running jobs.
const TaskPoll = "finetune.poll"

// PollHandler runs TaskPoll.
type PollHandler struct {
	service *Service
}

// NewPollHandler wraps s.
func NewPollHandler(s *Service) *PollHandler {
	return &PollHandler{service: s}
}

// Handle polls every running job.
func (h *PollHandler) Handle(ctx context.Context, _ *queue.Task) error {
	n, err := h.service.PollRunning(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.WithContext(ctx, h.service.logger).Info("polled running jobs", logging.Int("jobs", n))
	}
	return nil
}

// HealthCheck reports which providers are registered.
func (h *PollHandler) HealthCheck(context.Context) workflow.StageHealth {
	names := h.service.registry.Names()
	if len(names) == 0 {
		return workflow.UnhealthyStage(TaskPoll, "no providers registered")
	}
	health := workflow.HealthyStage(TaskPoll)
	health.Detail = fmt.Sprintf("providers: %s", strings.Join(names, ", "))
	return health
}
