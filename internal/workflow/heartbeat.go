package workflow

import (
	"context"
	"log/slog"
	"time"

	"bhasha/internal/logging"
	"bhasha/internal/queue"
)

// HeartbeatMonitor returns tasks whose claim outlived the stale timeout to the
// pending state so another pass can pick them up.
type HeartbeatMonitor struct {
	queue   *queue.Queue
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewHeartbeatMonitor creates a new monitor. A non-positive timeout disables
// reclamation.
func NewHeartbeatMonitor(q *queue.Queue, logger *slog.Logger, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{queue: q, logger: logger, timeout: timeout, now: time.Now}
}

// ReclaimStaleTasks resets running tasks claimed before now minus the timeout.
func (h *HeartbeatMonitor) ReclaimStaleTasks(ctx context.Context) (int64, error) {
	if h == nil || h.timeout <= 0 || h.queue == nil {
		return 0, nil
	}
	cutoff := h.now().Add(-h.timeout)
	reclaimed, err := h.queue.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 && h.logger != nil {
		h.logger.Info("reclaimed stale tasks",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "task_reclaimed"),
		)
	}
	return reclaimed, nil
}
