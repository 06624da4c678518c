package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"bhasha/internal/config"
	"bhasha/internal/logging"
	"bhasha/internal/queue"
)

// Manager coordinates queue processing using registered task handlers.
type Manager struct {
	cfg           *config.Config
	queue         *queue.Queue
	logger        *slog.Logger
	pollInterval  time.Duration
	retryInterval time.Duration
	staleTimeout  time.Duration
	maxAttempts   int

	heartbeat *HeartbeatMonitor

	handlers map[string]Handler
	periodic []periodicTrigger

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastTask  *queue.Task
	processed int
	failed    int
}

// NewManager constructs a new workflow manager.
func NewManager(cfg *config.Config, q *queue.Queue, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "workflow-manager"))
	stale := time.Duration(cfg.Workflow.TaskStaleTimeout) * time.Second
	return &Manager{
		cfg:           cfg,
		queue:         q,
		logger:        logger,
		pollInterval:  time.Duration(cfg.Workflow.TaskPollInterval) * time.Second,
		retryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		staleTimeout:  stale,
		maxAttempts:   cfg.Workflow.TaskMaxAttempts,
		heartbeat:     NewHeartbeatMonitor(q, logger, stale),
		handlers:      make(map[string]Handler),
	}
}

// Register binds a handler to a task kind. Registering a kind twice replaces
// the earlier handler.
func (m *Manager) Register(kind string, handler Handler) {
	kind = strings.TrimSpace(kind)
	if kind == "" || handler == nil {
		return
	}
	m.mu.Lock()
	m.handlers[kind] = handler
	m.mu.Unlock()
}

// Every enqueues a task of kind each interval while the manager runs. A new
// trigger is skipped while an earlier one is still outstanding.
func (m *Manager) Every(kind string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("periodic %s: interval must be positive", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("periodic %s: manager already running", kind)
	}
	m.periodic = append(m.periodic, periodicTrigger{kind: kind, interval: interval})
	return nil
}

// Kinds lists the registered task kinds in sorted order.
func (m *Manager) Kinds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kinds := make([]string, 0, len(m.handlers))
	for kind := range m.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func (m *Manager) handlerFor(kind string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[kind]
	return h, ok
}
