package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"bhasha/internal/config"
	"bhasha/internal/logging"
	"bhasha/internal/services"
	"bhasha/internal/services/llm"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

const (
	// MaxPromptLength bounds a test prompt in characters.
	MaxPromptLength = 4000

	pendingBatch = 50
	maxTokens    = 500
)

// Completer produces a completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Service manages test prompts and their evaluation.
type Service struct {
	store      *store.Store
	client     Completer
	configured bool
	logger     *slog.Logger
	baseModel  string
	limit      int
}

// Option customizes the service.
type Option func(*Service)

// WithCompleter replaces the chat completion client.
func WithCompleter(c Completer) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
			s.configured = true
		}
	}
}

// NewService builds a service that completes prompts through the
// OpenAI-style API configured in cfg.
func NewService(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.Finetune.DefaultBaseModel,
		TimeoutSeconds: cfg.OpenAI.TimeoutSeconds,
	})
	s := &Service{
		store:      st,
		client:     client,
		configured: client.Configured(),
		logger:     logger.With(logging.String(logging.FieldComponent, "evaluation")),
		baseModel:  cfg.Finetune.DefaultBaseModel,
		limit:      cfg.Workflow.MaxConcurrentPolls,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest adds a test prompt to a job.
type CreateRequest struct {
	JobID          string
	Prompt         string
	ExpectedOutput string
}

// Create records a pending prompt on a job owned by the session user.
func (s *Service) Create(ctx context.Context, sess session.Session, req CreateRequest) (*store.TestPrompt, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	job, err := s.ownedJob(ctx, sess, "create", req.JobID)
	if err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(req.Prompt)
	switch {
	case prompt == "":
		return nil, services.Wrap(services.ErrValidation, "evaluation", "create", "prompt is required", nil)
	case len([]rune(prompt)) > MaxPromptLength:
		return nil, services.Wrap(services.ErrValidation, "evaluation", "create", fmt.Sprintf("prompt cannot exceed %d characters", MaxPromptLength), nil)
	}
	p := &store.TestPrompt{
		UserID:         sess.UserID,
		JobID:          job.ID,
		Prompt:         prompt,
		ExpectedOutput: strings.TrimSpace(req.ExpectedOutput),
		Status:         store.PromptPending,
	}
	if err := s.store.InsertPrompt(ctx, p); err != nil {
		return nil, services.Wrap(services.ErrTransient, "evaluation", "create", "persist prompt", err)
	}
	return p, nil
}

// ListByJob returns a job's prompts in creation order.
func (s *Service) ListByJob(ctx context.Context, sess session.Session, jobID string) ([]store.TestPrompt, error) {
	if _, err := s.ownedJob(ctx, sess, "list", jobID); err != nil {
		return nil, err
	}
	out, err := s.store.ListPromptsByJob(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "evaluation", "list", "query prompts", err)
	}
	return out, nil
}

// Get returns a prompt owned by the session user.
func (s *Service) Get(ctx context.Context, sess session.Session, id string) (*store.TestPrompt, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sess.RequireOwner("evaluation", "get", p.UserID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) load(ctx context.Context, id string) (*store.TestPrompt, error) {
	p, err := s.store.GetPrompt(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "evaluation", "get", "load prompt", err)
	}
	if p == nil {
		return nil, services.Wrap(services.ErrNotFound, "evaluation", "get", fmt.Sprintf("test prompt %s not found", id), nil)
	}
	return p, nil
}

func (s *Service) ownedJob(ctx context.Context, sess session.Session, op, jobID string) (*store.FinetuneJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "evaluation", op, "load job", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "evaluation", op, fmt.Sprintf("fine-tune job %s not found", jobID), nil)
	}
	if err := sess.RequireOwner("evaluation", op, job.UserID); err != nil {
		return nil, err
	}
	return job, nil
}

// Evaluate completes one prompt against the base model and, once the job has
// produced one, the fine-tuned model. Scores are computed when an expected
// output is present. Completion failures are recorded on the prompt.
func (s *Service) Evaluate(ctx context.Context, id string) (*store.TestPrompt, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, p.JobID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "evaluation", "evaluate", "load job", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "evaluation", "evaluate", fmt.Sprintf("fine-tune job %s not found", p.JobID), nil)
	}
	if !s.configured {
		return nil, services.Wrap(services.ErrConfiguration, "evaluation", "evaluate", "evaluation API key not configured", nil)
	}
	logger := logging.WithContext(services.WithJobID(ctx, job.ID), s.logger).With(logging.String("prompt_id", p.ID))

	if err := s.complete(ctx, p, job); err != nil {
		p.Status = store.PromptFailed
		p.ErrorMessage = err.Error()
		logging.WarnWithContext(logger, "prompt evaluation failed", "evaluation_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "prompt is marked failed"),
		)
	} else {
		p.Status = store.PromptCompleted
		p.ErrorMessage = ""
		score(p)
	}
	if err := s.store.UpdatePromptResults(ctx, p); err != nil {
		return nil, services.Wrap(services.ErrTransient, "evaluation", "evaluate", "persist results", err)
	}
	logger.Info("prompt evaluated",
		logging.String("status", string(p.Status)),
		logging.Bool("fine_tuned", p.FineTunedOutput != ""),
	)
	return p, nil
}

func (s *Service) complete(ctx context.Context, p *store.TestPrompt, job *store.FinetuneJob) error {
	base := job.Model
	if base == "" {
		base = s.baseModel
	}
	out, err := s.client.Complete(ctx, llm.Request{Model: base, Prompt: p.Prompt, MaxTokens: maxTokens})
	if err != nil {
		return services.Wrap(services.ErrProvider, "evaluation", "base completion", "base model completion failed", err)
	}
	p.BaseModelOutput = strings.TrimSpace(out)
	if job.ModelID == "" {
		return nil
	}
	out, err = s.client.Complete(ctx, llm.Request{Model: job.ModelID, Prompt: p.Prompt, MaxTokens: maxTokens})
	if err != nil {
		return services.Wrap(services.ErrProvider, "evaluation", "fine-tuned completion", "fine-tuned model completion failed", err)
	}
	p.FineTunedOutput = strings.TrimSpace(out)
	return nil
}

// score fills BLEU and cultural accuracy for the best available output.
func score(p *store.TestPrompt) {
	if p.ExpectedOutput == "" {
		p.BLEUScore, p.CulturalAccuracy = nil, nil
		return
	}
	output := p.FineTunedOutput
	if output == "" {
		output = p.BaseModelOutput
	}
	bleu := BLEU(output, p.ExpectedOutput)
	cultural := CulturalAccuracy(output, p.ExpectedOutput)
	p.BLEUScore = &bleu
	p.CulturalAccuracy = &cultural
}

// ready reports whether a pending prompt's job has settled. Prompts on jobs
// still training wait for the fine-tuned model.
func ready(job *store.FinetuneJob) bool {
	return job != nil && job.Status.IsTerminal()
}

// ProcessPending evaluates pending prompts whose job has finished, with a
// bounded number in flight. It returns how many were evaluated.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	if !s.configured {
		return 0, nil
	}
	pending, err := s.store.ListPendingPrompts(ctx, pendingBatch)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "evaluation", "process", "list pending prompts", err)
	}
	var due []store.TestPrompt
	for _, p := range pending {
		job, err := s.store.GetJob(ctx, p.JobID)
		if err != nil {
			return 0, services.Wrap(services.ErrTransient, "evaluation", "process", "load job", err)
		}
		if ready(job) {
			due = append(due, p)
		}
	}

	limit := max(s.limit, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, p := range due {
		g.Go(func() error {
			if _, err := s.Evaluate(gctx, p.ID); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logging.WarnWithContext(s.logger, "prompt not evaluated", "evaluation_skipped",
					logging.String("prompt_id", p.ID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "prompt stays pending until the next run"),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(due), nil
}
