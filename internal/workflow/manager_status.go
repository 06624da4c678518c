package workflow

import (
	"context"

	"bhasha/internal/logging"
	"bhasha/internal/queue"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	LastError   string
	LastTask    *queue.Task
	Processed   int
	Failed      int
	QueueStats  queue.Stats
	StageHealth map[string]StageHealth
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastTask := m.lastTask
	processed, failed := m.processed, m.failed
	handlers := make(map[string]Handler, len(m.handlers))
	for kind, h := range m.handlers {
		handlers[kind] = h
	}
	m.mu.RUnlock()

	stats, err := m.queue.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_stats_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}

	health := make(map[string]StageHealth, len(handlers))
	for kind, h := range handlers {
		reporter, ok := h.(HealthReporter)
		if !ok {
			health[kind] = HealthyStage(kind)
			continue
		}
		health[kind] = reporter.HealthCheck(ctx)
	}

	summary := StatusSummary{
		Running:     running,
		Processed:   processed,
		Failed:      failed,
		QueueStats:  stats,
		StageHealth: health,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastTask != nil {
		copy := *lastTask
		summary.LastTask = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(task *queue.Task, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	if failed {
		m.failed++
	}
	if task != nil {
		copy := *task
		m.lastTask = &copy
	}
}
