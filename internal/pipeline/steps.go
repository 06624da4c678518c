package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bhasha/internal/finetune"
	"bhasha/internal/logging"
	"bhasha/internal/notifications"
	"bhasha/internal/queue"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/textutil"
	"bhasha/internal/validation"
	"bhasha/internal/workflow"
)

// TaskStep is the queue kind that runs one pipeline step.
const TaskStep = "pipeline.step"

// StepPayload addresses a step by its 1-based index.
type StepPayload struct {
	PipelineID string `json:"pipelineId"`
	Step       int    `json:"step"`
}

// Steps lists the statuses a pipeline passes through for cfg, in order.
func Steps(cfg store.PipelineConfig) []store.PipelineStatus {
	steps := []store.PipelineStatus{store.PipelineNormalizing, store.PipelineValidating, store.PipelineIngesting}
	if cfg.AutoCreateDataset {
		steps = append(steps, store.PipelineCreatingDataset)
	}
	if cfg.AutoFinetune {
		steps = append(steps, store.PipelineFineTuning)
	}
	return steps
}

// outcome is what a step persists onto the pipeline.
type outcome func(*store.Pipeline)

func (s *Service) schedule(ctx context.Context, id string, step int) error {
	if _, err := s.queue.RunAfter(ctx, s.stepDelay, TaskStep, id, StepPayload{PipelineID: id, Step: step}); err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "schedule", fmt.Sprintf("enqueue step %d", step), err)
	}
	return nil
}

// Advance runs one step. Step failures are recorded on the pipeline and not
// returned; only a missing pipeline, a malformed step or a persistence
// failure surfaces as an error.
func (s *Service) Advance(ctx context.Context, id string, step int) error {
	ctx = services.WithPipelineID(ctx, id)
	p, err := s.load(ctx, "advance", id)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, s.logger)
	if p.Status.IsTerminal() {
		logger.Debug("pipeline already finished; step skipped",
			logging.Int("step", step),
			logging.String("status", string(p.Status)),
		)
		return nil
	}
	steps := Steps(p.Config)
	if step < 1 || step > len(steps) {
		return services.Wrap(services.ErrValidation, "pipeline", "advance", fmt.Sprintf("step %d outside 1..%d", step, len(steps)), nil)
	}
	if step < p.CurrentStep {
		logger.Debug("stale step delivery skipped", logging.Int("step", step), logging.Int("current_step", p.CurrentStep))
		return nil
	}
	status := steps[step-1]
	ctx = services.WithStage(ctx, string(status))
	logger = logging.WithContext(ctx, s.logger)

	p, err = s.store.MutatePipeline(ctx, id, func(p *store.Pipeline) error {
		p.Status = status
		p.CurrentStep = step
		if p.StartedAt == nil {
			now := time.Now().UTC()
			p.StartedAt = &now
		}
		return nil
	})
	if stop, err := s.stopped(p, err, "begin step"); stop {
		return err
	}
	logger.Info("pipeline step started",
		logging.Int("step", step),
		logging.Int("total_steps", p.TotalSteps),
		logging.String(logging.FieldEventType, "pipeline_step_started"),
	)

	apply, stepErr := s.run(ctx, p, status)
	if errors.Is(stepErr, errStopped) {
		return nil
	}
	if stepErr != nil {
		return s.fail(ctx, p.ID, apply, stepErr)
	}

	last := step == len(steps)
	p, err = s.store.MutatePipeline(ctx, id, func(p *store.Pipeline) error {
		if apply != nil {
			apply(p)
		}
		if last {
			now := time.Now().UTC()
			p.Status = store.PipelineCompleted
			p.CurrentStep = p.TotalSteps
			p.CompletedAt = &now
		}
		return nil
	})
	if stop, err := s.stopped(p, err, "persist step"); stop {
		return err
	}
	if last {
		logger.Info("pipeline completed",
			logging.Int("content_items", len(p.ContentIDs)),
			logging.String(logging.FieldDatasetID, p.DatasetID),
			logging.String(logging.FieldJobID, p.FinetuneJobID),
			logging.String(logging.FieldEventType, "pipeline_completed"),
		)
		s.notify(ctx, notifications.EventPipelineCompleted, notifications.Payload{
			"pipelineId":   p.ID,
			"contentCount": strconv.Itoa(len(p.ContentIDs)),
			"datasetId":    p.DatasetID,
			"jobId":        p.FinetuneJobID,
		})
		return nil
	}
	return s.schedule(ctx, id, step+1)
}

// stopped reports whether Advance should return after a transition, and
// with which error. A pipeline that turned terminal underneath is a normal
// stop.
func (s *Service) stopped(p *store.Pipeline, err error, op string) (bool, error) {
	switch {
	case errors.Is(err, store.ErrPipelineTerminal):
		s.logger.Info("pipeline stopped at checkpoint",
			logging.String(logging.FieldPipelineID, p.ID),
			logging.String("status", string(p.Status)),
			logging.String(logging.FieldEventType, "pipeline_checkpoint_stop"),
		)
		return true, nil
	case err != nil:
		return true, services.Wrap(services.ErrTransient, "pipeline", op, "persist pipeline", err)
	case p == nil:
		return true, services.Wrap(services.ErrNotFound, "pipeline", op, "pipeline disappeared", nil)
	}
	return false, nil
}

// fail marks the pipeline failed with cause appended to its error log. A
// pipeline that was cancelled meanwhile keeps its status and raises no alert.
func (s *Service) fail(ctx context.Context, id string, apply outcome, cause error) error {
	_, err := s.store.MutatePipeline(ctx, id, func(p *store.Pipeline) error {
		if apply != nil {
			apply(p)
		}
		now := time.Now().UTC()
		p.Status = store.PipelineFailed
		p.ErrorLog = append(p.ErrorLog, failureMessage(cause))
		p.CompletedAt = &now
		return nil
	})
	if errors.Is(err, store.ErrPipelineTerminal) {
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "fail", "persist failed pipeline", errors.Join(cause, err))
	}
	attrs := append([]logging.Attr{logging.String(logging.FieldPipelineID, id)}, logging.ErrorAttrs(cause)...)
	logging.ErrorWithContext(logging.WithContext(ctx, s.logger), "pipeline failed", "pipeline_failed", attrs...)
	s.notify(ctx, notifications.EventPipelineFailed, notifications.Payload{"pipelineId": id, "error": failureMessage(cause)})
	return nil
}

func (s *Service) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := s.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "pipeline notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no alert was sent for this pipeline"),
		)
	}
}

func failureMessage(err error) string {
	details := services.Details(err)
	if details.Message == "" {
		return err.Error()
	}
	if details.Cause != nil {
		return fmt.Sprintf("%s: %v", details.Message, details.Cause)
	}
	return details.Message
}

func (s *Service) run(ctx context.Context, p *store.Pipeline, status store.PipelineStatus) (outcome, error) {
	switch status {
	case store.PipelineNormalizing:
		return s.normalizeStep(ctx, p)
	case store.PipelineValidating:
		return s.validateStep(ctx, p)
	case store.PipelineIngesting:
		return s.ingestStep(ctx, p)
	case store.PipelineCreatingDataset:
		return s.datasetStep(ctx, p)
	case store.PipelineFineTuning:
		return s.finetuneStep(ctx, p)
	default:
		return nil, services.Wrap(services.ErrPipelineStep, "pipeline", "advance", fmt.Sprintf("no step for status %s", status), nil)
	}
}

func (s *Service) source(ctx context.Context, p *store.Pipeline) (*store.ExternalDataset, error) {
	return s.externals.Load(ctx, p.ExternalDatasetID)
}

func (s *Service) normalizeStep(ctx context.Context, p *store.Pipeline) (outcome, error) {
	ext, err := s.source(ctx, p)
	if err != nil {
		return nil, err
	}
	records, format, err := Normalize(ext, p.Config)
	if err != nil {
		s.markSourceFailed(ctx, ext.ID, err)
		return nil, services.Wrap(services.ErrPipelineStep, "pipeline", "normalize", "parse external data", err)
	}
	total := len(records)
	if err := s.externals.UpdateProgress(ctx, ext.ID, store.ExternalProgress{
		Status:       store.ExternalProcessing,
		TotalRecords: &total,
	}); err != nil {
		return nil, err
	}
	logging.WithContext(ctx, s.logger).Info("records normalized",
		logging.Int("records", total),
		logging.String("format", string(format)),
	)
	return nil, nil
}

func (s *Service) validateStep(ctx context.Context, p *store.Pipeline) (outcome, error) {
	ext, result, err := s.validated(ctx, p)
	if err != nil {
		return nil, err
	}
	total, valid := result.Processed, len(result.Valid)
	if err := s.externals.UpdateProgress(ctx, ext.ID, store.ExternalProgress{
		TotalRecords:     &total,
		ProcessedRecords: &valid,
		ErrorLog:         result.Errors,
	}); err != nil {
		return nil, err
	}
	apply := func(p *store.Pipeline) {
		p.ErrorLog = append([]string(nil), result.Errors...)
	}
	if result.Aborted {
		s.markSourceFailed(ctx, ext.ID, errors.New(validation.AbortSentinel))
		return apply, services.Wrap(services.ErrPipelineStep, "pipeline", "validate", fmt.Sprintf("validation aborted after %d rejected records", len(result.Errors)-1), nil)
	}
	logging.WithContext(ctx, s.logger).Info("records validated",
		logging.Int("valid", valid),
		logging.Int("rejected", len(result.Errors)),
	)
	return apply, nil
}

// validated rebuilds the validated batch from the stored payload.
func (s *Service) validated(ctx context.Context, p *store.Pipeline) (*store.ExternalDataset, validation.BatchResult, error) {
	ext, err := s.source(ctx, p)
	if err != nil {
		return nil, validation.BatchResult{}, err
	}
	records, _, err := Normalize(ext, p.Config)
	if err != nil {
		return nil, validation.BatchResult{}, services.Wrap(services.ErrPipelineStep, "pipeline", "validate", "parse external data", err)
	}
	return ext, s.validate(records, p.Config), nil
}

func (s *Service) ingestStep(ctx context.Context, p *store.Pipeline) (outcome, error) {
	logger := logging.WithContext(ctx, s.logger)
	if len(p.ContentIDs) > 0 {
		logger.Info("content already ingested; step replay skipped", logging.Int("content_items", len(p.ContentIDs)))
		return nil, nil
	}
	ext, result, err := s.validated(ctx, p)
	if err != nil {
		return nil, err
	}
	candidates := result.Valid
	removed := 0
	if p.Config.RemoveDuplicates {
		candidates, removed = textutil.DedupeStrict(candidates, func(c validation.Candidate) string { return c.Text })
	}

	ids := make([]string, 0, len(candidates))
	failures := 0
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 && i%cancelCheckEvery == 0 && s.cancelled(ctx, p.ID) {
			logger.Info("pipeline cancelled during ingestion", logging.Int("content_items", len(ids)))
			return nil, errStopped
		}
		item := s.contentItem(p, c)
		if err := s.contents.Ingest(ctx, item, p.Config.EnableAIAnalysis); err != nil {
			failures++
			logging.WarnWithContext(logger, "record not ingested", "ingest_record_failed",
				logging.Int("row", c.Row),
				logging.Error(err),
				logging.String(logging.FieldImpact, "record is excluded from the pipeline output"),
			)
			continue
		}
		ids = append(ids, item.ID)
	}

	ingested := len(ids)
	if err := s.externals.UpdateProgress(ctx, ext.ID, store.ExternalProgress{
		Status:           store.ExternalCompleted,
		ProcessedRecords: &ingested,
	}); err != nil {
		logging.WarnWithContext(logger, "external dataset progress not recorded", "external_progress_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "source keeps its validation counts"),
		)
	}
	logger.Info("content ingested",
		logging.Int("content_items", ingested),
		logging.Int("duplicates_removed", removed),
		logging.Int("failures", failures),
	)
	return func(p *store.Pipeline) { p.ContentIDs = ids }, nil
}

func (s *Service) datasetStep(ctx context.Context, p *store.Pipeline) (outcome, error) {
	logger := logging.WithContext(ctx, s.logger)
	if p.DatasetID != "" {
		return nil, nil
	}
	if len(p.ContentIDs) == 0 {
		logger.Info("no content ingested; dataset not created")
		return func(p *store.Pipeline) {
			p.ErrorLog = append(p.ErrorLog, "dataset skipped: no content was ingested")
		}, nil
	}
	name := ""
	if p.Config.DatasetConfig != nil {
		name = p.Config.DatasetConfig.Name
	}
	if name == "" {
		ext, err := s.source(ctx, p)
		if err != nil {
			return nil, err
		}
		name = ext.Name
	}
	built, err := s.datasets.BuildFromIDs(ctx, p.UserID, name, p.ContentIDs)
	if err != nil {
		return nil, err
	}
	logger.Info("dataset created from pipeline",
		logging.String(logging.FieldDatasetID, built.Dataset.ID),
		logging.Int("size", built.Dataset.Size),
	)
	id := built.Dataset.ID
	return func(p *store.Pipeline) { p.DatasetID = id }, nil
}

func (s *Service) finetuneStep(ctx context.Context, p *store.Pipeline) (outcome, error) {
	logger := logging.WithContext(ctx, s.logger)
	if p.DatasetID == "" {
		logger.Info("no dataset produced; fine-tuning skipped")
		return nil, nil
	}
	owner := session.New(p.UserID)
	jobID := p.FinetuneJobID
	if jobID == "" {
		ft := p.Config.FinetuneConfig
		if ft == nil {
			ft = &store.PipelineFinetuneConfig{}
		}
		job, err := s.jobs.Create(ctx, owner, finetune.CreateRequest{
			DatasetID:    p.DatasetID,
			Parameters:   ft.Parameters,
			Provider:     ft.Provider,
			Model:        ft.Model,
			ConnectionID: ft.ConnectionID,
		})
		if err != nil {
			return nil, err
		}
		jobID = job.ID
		// Record the job before submitting so a replay never creates a second one.
		updated, err := s.store.MutatePipeline(ctx, p.ID, func(p *store.Pipeline) error {
			p.FinetuneJobID = jobID
			return nil
		})
		if stop, err := s.stopped(updated, err, "record job"); stop {
			if err == nil {
				err = errStopped
			}
			return nil, err
		}
	}
	job, err := s.jobs.Get(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == store.JobPending {
		if _, err := s.jobs.Submit(ctx, jobID); err != nil {
			return nil, err
		}
	}
	logger.Info("fine-tune job submitted from pipeline", logging.String(logging.FieldJobID, jobID))
	return func(p *store.Pipeline) { p.FinetuneJobID = jobID }, nil
}

// errStopped aborts a step whose pipeline turned terminal mid-step.
var errStopped = errors.New("pipeline stopped")

// cancelCheckEvery is how many records ingestion handles between status reloads.
const cancelCheckEvery = 50

func (s *Service) cancelled(ctx context.Context, id string) bool {
	p, err := s.store.GetPipeline(ctx, id)
	return err == nil && p != nil && p.Status.IsTerminal()
}

func (s *Service) markSourceFailed(ctx context.Context, id string, cause error) {
	err := s.externals.UpdateProgress(ctx, id, store.ExternalProgress{
		Status:   store.ExternalFailed,
		ErrorLog: []string{cause.Error()},
	})
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "external dataset status not recorded", "external_progress_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "source status is stale"),
		)
	}
}

// StepHandler runs TaskStep.
type StepHandler struct {
	service *Service
}

// NewStepHandler wraps s.
func NewStepHandler(s *Service) *StepHandler {
	return &StepHandler{service: s}
}

// Handle decodes the payload and advances the pipeline.
func (h *StepHandler) Handle(ctx context.Context, task *queue.Task) error {
	var payload StepPayload
	if err := task.Decode(&payload); err != nil {
		return services.Wrap(services.ErrValidation, "pipeline", "decode", "malformed step payload", err)
	}
	if payload.PipelineID == "" {
		payload.PipelineID = task.Key
	}
	return h.service.Advance(ctx, payload.PipelineID, payload.Step)
}

// HealthCheck reports the step handler as ready.
func (h *StepHandler) HealthCheck(context.Context) workflow.StageHealth {
	return workflow.HealthyStage(TaskStep)
}
