package finetune

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"bhasha/internal/config"
	"bhasha/internal/connections"
	"bhasha/internal/dataset"
	"bhasha/internal/hyperparams"
	"bhasha/internal/logging"
	"bhasha/internal/notifications"
	"bhasha/internal/providers"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

// Service manages fine-tuning jobs.
type Service struct {
	store      *store.Store
	datasets   *dataset.Builder
	registry   *providers.Registry
	notifier   notifications.Service
	logger     *slog.Logger
	split      dataset.Split
	shuffler   dataset.Shuffler
	pricePer1K float64
	pollLimit  int
	baseModel  string
}

// Option customises a Service.
type Option func(*Service)

// WithShuffler fixes the order used when splitting datasets for submission.
func WithShuffler(s dataset.Shuffler) Option {
	return func(svc *Service) { svc.shuffler = s }
}

// WithNotifier publishes terminal job transitions through n.
func WithNotifier(n notifications.Service) Option {
	return func(svc *Service) {
		if n != nil {
			svc.notifier = n
		}
	}
}

// NewService constructs a Service.
func NewService(cfg *config.Config, st *store.Store, datasets *dataset.Builder, registry *providers.Registry, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	split := dataset.Split{Train: cfg.Finetune.TrainSplit, Validation: cfg.Finetune.ValidationSplit, Test: cfg.Finetune.TestSplit}
	if split == (dataset.Split{}) {
		split = dataset.SubmissionSplit
	}
	svc := &Service{
		store:      st,
		datasets:   datasets,
		registry:   registry,
		notifier:   notifications.NewNop(),
		logger:     logger.With(logging.String(logging.FieldComponent, "finetune")),
		split:      split,
		pricePer1K: cfg.Finetune.CostPer1KTokens,
		pollLimit:  cfg.Workflow.MaxConcurrentPolls,
		baseModel:  cfg.Finetune.DefaultBaseModel,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Recommend derives hyperparameters for a dataset.
func (s *Service) Recommend(ctx context.Context, datasetID string) (*hyperparams.Recommendation, error) {
	ds, err := s.datasets.Get(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	rec := hyperparams.Recommend(s.inputFor(ds))
	return &rec, nil
}

func (s *Service) inputFor(ds *store.Dataset) hyperparams.Input {
	in := hyperparams.Input{
		DatasetSize:     ds.Size,
		Distribution:    ds.Metadata.TokenDistribution,
		AvgTokens:       ds.Metadata.AvgTokens,
		CostPer1KTokens: s.pricePer1K,
	}
	if in.AvgTokens <= 0 {
		in.AvgTokens = hyperparams.LegacyAvgTokens
	}
	return in
}

// CreateRequest describes a new job. Nil Parameters uses the recommendation.
type CreateRequest struct {
	DatasetID    string
	Parameters   *hyperparams.Params
	Provider     string
	Model        string
	ConnectionID string
}

// Create records a pending job for a dataset.
func (s *Service) Create(ctx context.Context, sess session.Session, req CreateRequest) (*store.FinetuneJob, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	ds, err := s.datasets.Get(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	providerName := strings.ToLower(strings.TrimSpace(req.Provider))
	if providerName == "" {
		providerName = providers.NameOpenAI
	}
	if _, err := s.registry.Get(providerName); err != nil {
		return nil, err
	}
	if providerName == providers.NameCustom {
		if req.ConnectionID == "" {
			return nil, services.Wrap(services.ErrValidation, "finetune", "create", "custom provider requires --connection", nil)
		}
		conn, err := connections.Load(ctx, s.store, req.ConnectionID)
		if err != nil {
			return nil, err
		}
		if err := sess.RequireOwner("finetune", "create", conn.UserID); err != nil {
			return nil, err
		}
	}

	in := s.inputFor(ds)
	var params hyperparams.Params
	if req.Parameters != nil {
		params = *req.Parameters
	} else {
		params = hyperparams.Recommend(in).Params
	}
	if err := params.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "finetune", "create", err.Error(), nil)
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.baseModel
	}
	price := s.pricePer1K
	if price <= 0 {
		price = hyperparams.DefaultCostPer1KTokens
	}

	job := &store.FinetuneJob{
		UserID:           sess.UserID,
		DatasetID:        ds.ID,
		Status:           store.JobPending,
		Parameters:       params,
		Provider:         providerName,
		Model:            model,
		ConnectionID:     strings.TrimSpace(req.ConnectionID),
		EstimatedCost:    hyperparams.EstimateCost(ds.Size, in.AvgTokens, params.Epochs, price),
		EstimatedMinutes: hyperparams.EstimateMinutes(ds.Size, in.AvgTokens, params.Epochs),
	}
	if err := s.store.InsertJob(ctx, job); err != nil {
		return nil, services.Wrap(services.ErrTransient, "finetune", "create", "persist job", err)
	}
	if err := s.store.RecordActivity(ctx, &store.Activity{
		UserID:        sess.UserID,
		Action:        store.ActionFinetuneStarted,
		FinetuneJobID: job.ID,
		Metadata:      map[string]any{"datasetId": ds.ID, "provider": providerName},
	}); err != nil {
		logging.WarnWithContext(s.logger, "activity not recorded", "activity_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "activity feed misses this job"),
		)
	}
	s.logger.Info("fine-tune job created",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldDatasetID, ds.ID),
		logging.String(logging.FieldProvider, providerName),
		logging.Float64("estimated_cost", job.EstimatedCost),
	)
	return job, nil
}

// Get returns a job owned by the session user.
func (s *Service) Get(ctx context.Context, sess session.Session, id string) (*store.FinetuneJob, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sess.RequireOwner("finetune", "get", job.UserID); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) load(ctx context.Context, id string) (*store.FinetuneJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "finetune", "get", "load job", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "finetune", "get", fmt.Sprintf("job %s not found", id), nil)
	}
	return job, nil
}

// List returns the session user's jobs, newest first.
func (s *Service) List(ctx context.Context, sess session.Session, status string, limit int) ([]store.FinetuneJob, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	jobs, err := s.store.ListJobs(ctx, sess.UserID, store.JobStatus(strings.ToLower(strings.TrimSpace(status))), limit)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "finetune", "list", "query jobs", err)
	}
	return jobs, nil
}
