package workflow

import (
	"context"
	"errors"
	"time"

	"bhasha/internal/logging"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return errors.New("workflow handlers not configured")
	}
	triggers := append([]periodicTrigger(nil), m.periodic...)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1 + len(triggers))
	m.mu.Unlock()

	if reset, err := m.queue.ResetRunning(runCtx); err != nil {
		m.logger.Warn("reset running tasks failed; claimed tasks wait for stale reclaim",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_reset_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	} else if reset > 0 {
		m.logger.Info("returned interrupted tasks to pending", logging.Int64("count", reset))
	}

	go m.run(runCtx)
	for _, trigger := range triggers {
		go m.runPeriodic(runCtx, trigger)
	}
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := m.heartbeat.ReclaimStaleTasks(ctx); err != nil {
			m.logger.Warn("reclaim stale tasks failed; stuck tasks may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "task_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}

		task, err := m.queue.ClaimNext(ctx)
		if err != nil {
			m.handleNextTaskError(ctx, err)
			continue
		}
		if task == nil {
			m.waitForTaskOrShutdown(ctx)
			continue
		}

		if err := m.processTask(ctx, task); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) runPeriodic(ctx context.Context, trigger periodicTrigger) {
	defer m.wg.Done()
	ticker := time.NewTicker(trigger.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Trigger(ctx, trigger.kind); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("periodic trigger failed; next tick will retry",
					logging.String(logging.FieldTaskKind, trigger.kind),
					logging.Error(err),
					logging.String(logging.FieldEventType, "trigger_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}
	}
}

// Trigger enqueues a keyless task of kind unless one is already outstanding.
// It reports whether a task was enqueued.
func (m *Manager) Trigger(ctx context.Context, kind string) (bool, error) {
	outstanding, err := m.queue.HasOutstanding(ctx, kind, "")
	if err != nil {
		return false, err
	}
	if outstanding {
		return false, nil
	}
	if _, err := m.queue.Enqueue(ctx, kind, "", nil); err != nil {
		return false, err
	}
	return true, nil
}

// Drain processes due tasks synchronously until none remain or ctx ends. It
// returns the number of tasks handled. Tasks retried with a delay are left for
// a later pass.
func (m *Manager) Drain(ctx context.Context) (int, error) {
	handled := 0
	for {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		task, err := m.queue.ClaimNext(ctx)
		if err != nil {
			m.setLastError(err)
			return handled, err
		}
		if task == nil {
			return handled, nil
		}
		handled++
		if err := m.processTask(ctx, task); errors.Is(err, context.Canceled) {
			return handled, err
		}
	}
}

func (m *Manager) handleNextTaskError(ctx context.Context, err error) {
	m.setLastError(err)
	m.logger.Error("failed to claim next task",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.retryInterval):
	}
}

func (m *Manager) waitForTaskOrShutdown(ctx context.Context) {
	wait := m.pollInterval
	if wait <= 0 {
		wait = 10 * time.Millisecond
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
