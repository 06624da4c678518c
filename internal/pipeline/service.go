package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bhasha/internal/config"
	"bhasha/internal/content"
	"bhasha/internal/dataset"
	"bhasha/internal/external"
	"bhasha/internal/finetune"
	"bhasha/internal/importer"
	"bhasha/internal/language"
	"bhasha/internal/logging"
	"bhasha/internal/notifications"
	"bhasha/internal/providers"
	"bhasha/internal/queue"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/validation"
)

// Service creates, inspects and advances import pipelines.
type Service struct {
	store     *store.Store
	queue     *queue.Queue
	externals *external.Service
	contents  *content.Service
	datasets  *dataset.Builder
	jobs      *finetune.Service
	notifier  notifications.Service
	logger    *slog.Logger

	stepDelay time.Duration
	sourceTag string
	maxErrors int
}

// Deps groups the collaborators a pipeline drives.
type Deps struct {
	Store     *store.Store
	Queue     *queue.Queue
	Externals *external.Service
	Contents  *content.Service
	Datasets  *dataset.Builder
	Jobs      *finetune.Service
	// Notifier is optional.
	Notifier notifications.Service
}

// NewService wires a pipeline service.
func NewService(cfg *config.Config, deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewNop()
	}
	return &Service{
		store:     deps.Store,
		queue:     deps.Queue,
		externals: deps.Externals,
		contents:  deps.Contents,
		datasets:  deps.Datasets,
		jobs:      deps.Jobs,
		notifier:  notifier,
		logger:    logger.With(logging.String(logging.FieldComponent, "pipeline")),
		stepDelay: time.Duration(cfg.Workflow.PipelineStepDelayMS) * time.Millisecond,
		sourceTag: cfg.Curation.ImportSourceTag,
		maxErrors: cfg.Curation.MaxImportErrors,
	}
}

// LoadConfig reads a YAML pipeline configuration file.
func LoadConfig(path string) (store.PipelineConfig, error) {
	var cfg store.PipelineConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, services.Wrap(services.ErrNotFound, "pipeline", "load config", fmt.Sprintf("pipeline config %s not found", path), err)
		}
		return cfg, services.Wrap(services.ErrConfiguration, "pipeline", "load config", "read pipeline config", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, services.Wrap(services.ErrValidation, "pipeline", "load config", "parse pipeline config", err)
	}
	return cfg, nil
}

// NormalizeConfig canonicalizes cfg in place and rejects unusable settings.
func NormalizeConfig(cfg *store.PipelineConfig) error {
	var problems []string

	format, err := importer.ParseFormat(cfg.Format)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.Format = string(format)

	cfg.DefaultContentType = strings.ToLower(strings.TrimSpace(cfg.DefaultContentType))
	if cfg.DefaultContentType != "" && !validation.IsContentType(cfg.DefaultContentType) {
		problems = append(problems, fmt.Sprintf("default content type must be one of %s", strings.Join(validation.ContentTypes, ", ")))
	}
	if cfg.DefaultLanguage != "" {
		lang, ok := language.Parse(cfg.DefaultLanguage)
		if !ok {
			problems = append(problems, fmt.Sprintf("default language %q is not supported", cfg.DefaultLanguage))
		}
		cfg.DefaultLanguage = string(lang)
	}
	status, ok := store.ParseContentStatus(cfg.DefaultStatus)
	if !ok {
		problems = append(problems, fmt.Sprintf("default status %q must be draft or published", cfg.DefaultStatus))
	}
	cfg.DefaultStatus = string(status)
	if cfg.MinQualityThreshold < 0 || cfg.MinQualityThreshold > 10 {
		problems = append(problems, "minimum quality threshold must be between 0 and 10")
	}

	if cfg.AutoFinetune {
		if cfg.FinetuneConfig == nil {
			cfg.FinetuneConfig = &store.PipelineFinetuneConfig{}
		}
		ft := cfg.FinetuneConfig
		ft.Provider = strings.ToLower(strings.TrimSpace(ft.Provider))
		if ft.Provider == "" {
			ft.Provider = providers.NameOpenAI
		}
		switch ft.Provider {
		case providers.NameOpenAI:
		case providers.NameCustom:
			if strings.TrimSpace(ft.ConnectionID) == "" {
				problems = append(problems, "custom fine-tuning requires a connection id")
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown fine-tune provider %q", ft.Provider))
		}
		if ft.Parameters != nil {
			if err := ft.Parameters.Validate(); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}

	if len(problems) > 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "config", strings.Join(problems, "; "), nil)
	}
	return nil
}

// CreateRequest starts a pipeline over an external dataset.
type CreateRequest struct {
	ExternalDatasetID string
	Config            store.PipelineConfig
}

// Create records a pending pipeline and schedules its first step.
func (s *Service) Create(ctx context.Context, sess session.Session, req CreateRequest) (*store.Pipeline, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	ext, err := s.externals.Get(ctx, sess, req.ExternalDatasetID)
	if err != nil {
		return nil, err
	}
	cfg := req.Config
	if err := NormalizeConfig(&cfg); err != nil {
		return nil, err
	}
	p := &store.Pipeline{
		UserID:            sess.UserID,
		ExternalDatasetID: ext.ID,
		Config:            cfg,
	}
	if err := s.store.InsertPipeline(ctx, p); err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "create", "persist pipeline", err)
	}
	if err := s.store.RecordActivity(ctx, &store.Activity{
		UserID:   sess.UserID,
		Action:   store.ActionPipelineCreated,
		Metadata: map[string]any{"pipelineId": p.ID, "externalDatasetId": ext.ID},
	}); err != nil {
		logging.WarnWithContext(s.logger, "activity not recorded", "activity_failed",
			logging.String(logging.FieldPipelineID, p.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "activity feed misses this pipeline"),
		)
	}
	if err := s.schedule(ctx, p.ID, 1); err != nil {
		return nil, err
	}
	s.logger.Info("pipeline created",
		logging.String(logging.FieldPipelineID, p.ID),
		logging.String(logging.FieldDatasetID, ext.ID),
		logging.Int("total_steps", p.TotalSteps),
		logging.String(logging.FieldEventType, "pipeline_created"),
	)
	return p, nil
}

// List returns the session user's pipelines, newest first.
func (s *Service) List(ctx context.Context, sess session.Session, status string) ([]store.Pipeline, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	out, err := s.store.ListPipelines(ctx, sess.UserID, store.PipelineStatus(strings.ToLower(strings.TrimSpace(status))))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "list", "query pipelines", err)
	}
	return out, nil
}

// Status returns a pipeline owned by the session user.
func (s *Service) Status(ctx context.Context, sess session.Session, id string) (*store.Pipeline, error) {
	p, err := s.load(ctx, "status", id)
	if err != nil {
		return nil, err
	}
	if err := sess.RequireOwner("pipeline", "status", p.UserID); err != nil {
		return nil, err
	}
	return p, nil
}

// Cancel marks a pipeline cancelled. Steps already dispatched observe the
// terminal status at their next transition and stop.
func (s *Service) Cancel(ctx context.Context, sess session.Session, id string) (*store.Pipeline, error) {
	if _, err := s.Status(ctx, sess, id); err != nil {
		return nil, err
	}
	p, err := s.store.MutatePipeline(ctx, id, func(p *store.Pipeline) error {
		now := time.Now().UTC()
		p.Status = store.PipelineCancelled
		p.CompletedAt = &now
		return nil
	})
	if errors.Is(err, store.ErrPipelineTerminal) {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "cancel", fmt.Sprintf("pipeline %s is already %s", id, p.Status), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "cancel", "persist pipeline", err)
	}
	if p == nil {
		return nil, notFound("cancel", id)
	}
	s.logger.Info("pipeline cancelled",
		logging.String(logging.FieldPipelineID, id),
		logging.Int("current_step", p.CurrentStep),
		logging.String(logging.FieldEventType, "pipeline_cancelled"),
	)
	return p, nil
}

func (s *Service) load(ctx context.Context, op, id string) (*store.Pipeline, error) {
	p, err := s.store.GetPipeline(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", op, "load pipeline", err)
	}
	if p == nil {
		return nil, notFound(op, id)
	}
	return p, nil
}

func notFound(op, id string) error {
	return services.Wrap(services.ErrNotFound, "pipeline", op, fmt.Sprintf("pipeline %s not found", id), nil)
}
