package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"bhasha/internal/config"
	"bhasha/internal/logging"
	"bhasha/internal/queue"
	"bhasha/internal/workflow"
)

// Daemon runs the workflow manager and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	queue    *queue.Queue
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, q *queue.Queue, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || q == nil || wf == nil {
		return nil, errors.New("daemon requires config, queue, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		queue:    q,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another bhasha daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("bhasha daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
			logging.String(logging.FieldImpact, "the next start may report another instance running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("bhasha daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon. The queue belongs to the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// ListQueue returns tasks filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses ...queue.Status) ([]queue.Task, error) {
	return d.queue.List(ctx, statuses...)
}

// PurgeFinished removes completed tasks older than age.
func (d *Daemon) PurgeFinished(ctx context.Context, age time.Duration) (int64, error) {
	return d.queue.PurgeFinished(ctx, time.Now().UTC().Add(-age))
}

// ResetStuck returns running tasks to pending. Only safe while no daemon
// holds the lock.
func (d *Daemon) ResetStuck(ctx context.Context) (int64, error) {
	if d.running.Load() {
		return 0, errors.New("cannot reset running tasks while the daemon is active")
	}
	return d.queue.ResetRunning(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.queue.Path(),
		LockFilePath: d.lockPath,
	}
}

// Locked reports whether some process holds the daemon lock at path. A lock
// file that does not exist yet, or whose directory is missing, means no
// daemon has started; Locked never creates it.
func Locked(path string) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check lock: %w", err)
	}
	if ok {
		_ = fl.Unlock()
		return false, nil
	}
	return true, nil
}
