// Package app assembles the curation services over one store and task queue.
// The daemon and the CLI share this wiring so both see the same behavior.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bhasha/internal/config"
	"bhasha/internal/connections"
	"bhasha/internal/content"
	"bhasha/internal/dataset"
	"bhasha/internal/evaluation"
	"bhasha/internal/external"
	"bhasha/internal/finetune"
	"bhasha/internal/logging"
	"bhasha/internal/notifications"
	"bhasha/internal/pipeline"
	"bhasha/internal/providers"
	"bhasha/internal/quality"
	"bhasha/internal/queue"
	"bhasha/internal/store"
	"bhasha/internal/workflow"
)

// App holds the shared services.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store *store.Store
	Queue *queue.Queue

	Analyzer    quality.Analyzer
	Notifier    notifications.Service
	Content     *content.Service
	Datasets    *dataset.Builder
	Externals   *external.Service
	Connections *connections.Service
	Providers   *providers.Registry
	Finetune    *finetune.Service
	Pipelines   *pipeline.Service
	Evaluation  *evaluation.Service
}

// Open connects both databases and builds every service.
func Open(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	q, err := queue.Open(cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Store: st, Queue: q}
	a.Analyzer = quality.NewFromConfig(cfg)
	a.Notifier = notifications.NewService(cfg)
	a.Content = content.NewService(cfg, st, q, logger)
	a.Datasets = dataset.NewBuilder(st, logger)
	a.Externals = external.NewService(cfg, st, logger)
	a.Connections = connections.NewService(cfg, st, logger)
	a.Providers = providers.NewRegistry(
		providers.NewOpenAI(cfg),
		providers.NewCustom(cfg, st),
	)
	a.Finetune = finetune.NewService(cfg, st, a.Datasets, a.Providers, logger, finetune.WithNotifier(a.Notifier))
	a.Pipelines = pipeline.NewService(cfg, pipeline.Deps{
		Store:     st,
		Queue:     q,
		Externals: a.Externals,
		Contents:  a.Content,
		Datasets:  a.Datasets,
		Jobs:      a.Finetune,
		Notifier:  a.Notifier,
	}, logger)
	a.Evaluation = evaluation.NewService(cfg, st, logger)
	return a, nil
}

// Register binds every task handler to mgr and schedules the periodic
// polls. It must run before mgr starts.
func (a *App) Register(mgr *workflow.Manager) error {
	if mgr == nil {
		return errors.New("workflow manager is required")
	}
	mgr.Register(content.TaskAnalyze, content.NewAnalyzeHandler(a.Store, a.Analyzer, a.Logger))
	mgr.Register(pipeline.TaskStep, pipeline.NewStepHandler(a.Pipelines))
	mgr.Register(finetune.TaskPoll, finetune.NewPollHandler(a.Finetune))
	mgr.Register(evaluation.TaskRun, evaluation.NewRunHandler(a.Evaluation))

	wf := a.Config.Workflow
	if err := mgr.Every(finetune.TaskPoll, time.Duration(wf.JobPollInterval)*time.Second); err != nil {
		return err
	}
	return mgr.Every(evaluation.TaskRun, time.Duration(wf.EvaluationInterval)*time.Second)
}

// Close releases both databases.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	return errors.Join(a.Queue.Close(), a.Store.Close())
}
