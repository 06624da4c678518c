package finetune

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"bhasha/internal/dataset"
	"bhasha/internal/logging"
	"bhasha/internal/notifications"
	"bhasha/internal/providers"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

// Submit exports the job's dataset and hands it to the job's provider. The
// job must be pending. Provider failures mark the job failed.
func (s *Service) Submit(ctx context.Context, jobID string) (*store.FinetuneJob, error) {
	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, s.logger)

	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != store.JobPending {
		return nil, services.Wrap(services.ErrValidation, "finetune", "submit", fmt.Sprintf("job is %s, only pending jobs can be submitted", job.Status), nil)
	}
	provider, err := s.registry.Get(job.Provider)
	if err != nil {
		return nil, s.fail(ctx, job, err)
	}
	ds, err := s.datasets.Get(ctx, job.DatasetID)
	if err != nil {
		return nil, s.fail(ctx, job, err)
	}
	if ds.Size == 0 {
		return nil, s.fail(ctx, job, services.Wrap(services.ErrValidation, "finetune", "submit", "dataset is empty; nothing to train on", nil))
	}
	parts, err := s.datasets.Export(ctx, ds.ID, dataset.ExportOptions{Split: s.split, Shuffler: s.shuffler})
	if err != nil {
		return nil, s.fail(ctx, job, err)
	}
	if len(parts.Train) == 0 {
		return nil, s.fail(ctx, job, services.Wrap(services.ErrValidation, "finetune", "submit", "training split is empty", nil))
	}

	logger.Info("submitting fine-tune job",
		logging.String(logging.FieldProvider, provider.Name()),
		logging.Int("train_samples", len(parts.Train)),
		logging.Int("validation_samples", len(parts.Validation)),
		logging.String(logging.FieldEventType, "finetune_submit"),
	)
	providerJobID, err := provider.Submit(ctx, providers.SubmitRequest{Job: job, Dataset: ds, Partitions: parts})
	if err != nil {
		return nil, s.fail(ctx, job, err)
	}
	job.ProviderJobID = providerJobID
	job.Status = store.JobRunning
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, services.Wrap(services.ErrTransient, "finetune", "submit", "persist job", err)
	}
	logger.Info("fine-tune job running",
		logging.String("provider_job_id", providerJobID),
		logging.String(logging.FieldEventType, "finetune_running"),
	)
	return job, nil
}

// fail records cause on the job and returns it.
func (s *Service) fail(ctx context.Context, job *store.FinetuneJob, cause error) error {
	now := time.Now().UTC()
	job.Status = store.JobFailed
	details := services.Details(cause)
	job.ErrorMessage = details.Message
	if details.Cause != nil {
		job.ErrorMessage = fmt.Sprintf("%s: %v", details.Message, details.Cause)
	}
	job.CompletedAt = &now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return errors.Join(cause, fmt.Errorf("persist failed job: %w", err))
	}
	logging.ErrorWithContext(logging.WithContext(ctx, s.logger), "fine-tune job failed", "finetune_failed",
		logging.String(logging.FieldJobID, job.ID),
		logging.Error(cause),
	)
	s.notify(ctx, job)
	return cause
}

// notify publishes a completed or failed job. Delivery problems are logged.
func (s *Service) notify(ctx context.Context, job *store.FinetuneJob) {
	var event notifications.Event
	switch job.Status {
	case store.JobCompleted:
		event = notifications.EventFinetuneCompleted
	case store.JobFailed:
		event = notifications.EventFinetuneFailed
	default:
		return
	}
	payload := notifications.Payload{"jobId": job.ID, "modelId": job.ModelID, "error": job.ErrorMessage}
	if err := s.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(s.logger, "job notification failed", "notification_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no alert was sent for this job"),
		)
	}
}

// Poll refreshes one running job from its provider.
func (s *Service) Poll(ctx context.Context, jobID string) (*store.FinetuneJob, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != store.JobRunning || job.ProviderJobID == "" {
		return job, nil
	}
	provider, err := s.registry.Get(job.Provider)
	if err != nil {
		return nil, err
	}
	update, err := provider.Poll(ctx, job)
	if err != nil {
		return nil, err
	}
	ApplyUpdate(job, update, time.Now().UTC())
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, services.Wrap(services.ErrTransient, "finetune", "poll", "persist job", err)
	}
	if job.Status.IsTerminal() {
		logging.WithContext(services.WithJobID(ctx, job.ID), s.logger).Info("fine-tune job finished",
			logging.String("status", string(job.Status)),
			logging.String("model_id", job.ModelID),
			logging.String(logging.FieldEventType, "finetune_"+string(job.Status)),
		)
		s.notify(ctx, job)
	}
	return job, nil
}

// ApplyUpdate folds a provider update into job. Loss history only grows,
// steps and epoch never decrease, and a model id is kept once seen.
func ApplyUpdate(job *store.FinetuneJob, update *providers.JobUpdate, now time.Time) {
	job.Metrics.Loss = MergeLoss(job.Metrics.Loss, update.Loss)
	job.Metrics.Steps = max(job.Metrics.Steps, update.Steps)
	job.Metrics.CurrentEpoch = max(job.Metrics.CurrentEpoch, update.Epoch)
	if update.ModelID != "" {
		job.ModelID = update.ModelID
	}
	if len(update.Results) > 0 {
		job.Results = update.Results
	}
	job.Status = update.Status
	switch update.Status {
	case store.JobFailed:
		job.ErrorMessage = update.Error
		if job.ErrorMessage == "" {
			job.ErrorMessage = "provider reported " + update.RawStatus
		}
		job.CompletedAt = &now
	case store.JobCompleted, store.JobCancelled:
		job.CompletedAt = &now
	}
}

// MergeLoss appends incoming loss values to existing. When incoming repeats
// existing as a prefix it is taken as the full history; a single value equal
// to the last recorded one is ignored.
func MergeLoss(existing, incoming []float64) []float64 {
	if len(incoming) == 0 {
		return existing
	}
	if len(incoming) >= len(existing) && slices.Equal(incoming[:len(existing)], existing) {
		return slices.Clone(incoming)
	}
	if len(incoming) == 1 && len(existing) > 0 && existing[len(existing)-1] == incoming[0] {
		return existing
	}
	return append(slices.Clone(existing), incoming...)
}

// PollRunning polls every running job with at most MaxConcurrentPolls in
// flight. Individual failures are logged and do not stop the sweep.
func (s *Service) PollRunning(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, "", store.JobRunning, 0)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "finetune", "poll", "list running jobs", err)
	}
	limit := s.pollLimit
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, job := range jobs {
		g.Go(func() error {
			if _, err := s.Poll(gctx, job.ID); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logging.WarnWithContext(s.logger, "job poll failed", "finetune_poll_failed",
					logging.String(logging.FieldJobID, job.ID),
					logging.String(logging.FieldProvider, job.Provider),
					logging.Error(err),
					logging.String(logging.FieldImpact, "status refreshes on the next poll"),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// Cancel marks an owned job cancelled. A running job with a provider id is
// cancelled at the provider first on a best-effort basis.
func (s *Service) Cancel(ctx context.Context, sess session.Session, jobID string) (*store.FinetuneJob, error) {
	job, err := s.Get(ctx, sess, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, services.Wrap(services.ErrValidation, "finetune", "cancel", fmt.Sprintf("job already %s", job.Status), nil)
	}
	if job.Status == store.JobRunning && job.ProviderJobID != "" {
		if provider, err := s.registry.Get(job.Provider); err == nil {
			err = provider.Cancel(ctx, job)
			if err != nil {
				logging.WarnWithContext(s.logger, "provider cancel failed", "finetune_cancel_failed",
					logging.String(logging.FieldJobID, job.ID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "provider may keep training; local job is cancelled"),
				)
			}
		}
	}
	now := time.Now().UTC()
	job.Status = store.JobCancelled
	job.CompletedAt = &now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, services.Wrap(services.ErrTransient, "finetune", "cancel", "persist job", err)
	}
	return job, nil
}
