package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"bhasha/internal/config"
	"bhasha/internal/language"
	"bhasha/internal/logging"
	"bhasha/internal/queue"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/textutil"
	"bhasha/internal/validation"
)

// TaskAnalyze is the queue kind for asynchronous quality analysis.
const TaskAnalyze = "content.analyze"

// AnalyzePayload is the task payload for TaskAnalyze.
type AnalyzePayload struct {
	ContentID string `json:"contentId"`
}

// Service implements content operations for one store.
type Service struct {
	store     *store.Store
	queue     *queue.Queue
	logger    *slog.Logger
	threshold float64
}

// NewService constructs a content service. A nil queue disables analysis
// scheduling.
func NewService(cfg *config.Config, st *store.Store, q *queue.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:     st,
		queue:     q,
		logger:    logger.With(logging.String(logging.FieldComponent, "content")),
		threshold: cfg.Curation.DuplicateThreshold,
	}
}

// CreateRequest is a direct content contribution.
type CreateRequest struct {
	Text             string
	Language         string
	ContentType      string
	Region           string
	Category         string
	Source           string
	Dialect          string
	CulturalContext  string
	Status           string
	EnableAIAnalysis bool
}

// Create validates and stores a new item owned by the session user.
func (s *Service) Create(ctx context.Context, sess session.Session, req CreateRequest) (*store.ContentItem, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	result := validation.ValidateContent(validation.ContentInput{
		Text:            req.Text,
		Language:        req.Language,
		ContentType:     req.ContentType,
		Region:          req.Region,
		Category:        req.Category,
		Source:          req.Source,
		Dialect:         req.Dialect,
		CulturalContext: req.CulturalContext,
	})
	if !result.Valid {
		return nil, services.Wrap(services.ErrValidation, "content", "create", result.Error(), nil)
	}
	status, ok := store.ParseContentStatus(req.Status)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "content", "create", fmt.Sprintf("unknown status %q", req.Status), nil)
	}
	lang, _ := language.Parse(req.Language)

	item := &store.ContentItem{
		UserID:          sess.UserID,
		Text:            strings.TrimSpace(req.Text),
		Language:        string(lang),
		ContentType:     req.ContentType,
		Region:          strings.TrimSpace(req.Region),
		Category:        strings.TrimSpace(req.Category),
		Source:          strings.TrimSpace(req.Source),
		Dialect:         strings.TrimSpace(req.Dialect),
		CulturalContext: strings.TrimSpace(req.CulturalContext),
		Status:          status,
	}
	if err := s.store.InsertContentGuarded(ctx, item, s.duplicateGuard(item.Text)); err != nil {
		var dup *DuplicateContentError
		if errors.As(err, &dup) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, "content", "create", "insert content", err)
	}

	s.recordCreated(ctx, item)
	if req.EnableAIAnalysis {
		s.scheduleAnalysis(ctx, item.ID)
	}
	s.logger.Info("content created",
		logging.String(logging.FieldContentID, item.ID),
		logging.String("language", item.Language),
		logging.String("content_type", item.ContentType),
		logging.String(logging.FieldEventType, "content_created"),
	)
	return item, nil
}

func (s *Service) duplicateGuard(text string) store.ContentGuard {
	return func(existing []store.ContentItem) error {
		texts := make([]string, len(existing))
		for i := range existing {
			texts[i] = existing[i].Text
		}
		match, found := textutil.FindNearDuplicate(text, texts, s.threshold)
		if !found {
			return nil
		}
		return &DuplicateContentError{MatchID: existing[match.Index].ID, Similarity: match.Similarity}
	}
}

// Ingest stores an already validated item without the similarity guard. It
// is the bulk-import path; exact duplicates are removed before it is called.
func (s *Service) Ingest(ctx context.Context, item *store.ContentItem, analyze bool) error {
	if err := s.store.InsertContent(ctx, item); err != nil {
		return err
	}
	if analyze {
		s.scheduleAnalysis(ctx, item.ID)
	}
	return nil
}

func (s *Service) recordCreated(ctx context.Context, item *store.ContentItem) {
	err := s.store.RecordActivity(ctx, &store.Activity{
		UserID:    item.UserID,
		Action:    store.ActionContentCreated,
		ContentID: item.ID,
		Metadata:  map[string]any{"language": item.Language, "contentType": item.ContentType},
	})
	if err != nil {
		logging.WarnWithContext(s.logger, "activity not recorded", "activity_failed",
			logging.String(logging.FieldContentID, item.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "activity feed misses this contribution"),
		)
	}
}

func (s *Service) scheduleAnalysis(ctx context.Context, id string) {
	if s.queue == nil {
		return
	}
	if _, err := s.queue.Enqueue(ctx, TaskAnalyze, id, AnalyzePayload{ContentID: id}); err != nil {
		logging.WarnWithContext(s.logger, "quality analysis not scheduled", "analysis_schedule_failed",
			logging.String(logging.FieldContentID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "content keeps a zero quality score"),
		)
	}
}

// UpdateRequest carries optional edits; nil fields are left unchanged.
type UpdateRequest struct {
	Text            *string
	Language        *string
	ContentType     *string
	Region          *string
	Category        *string
	Source          *string
	Dialect         *string
	CulturalContext *string
	Status          *string
}

// Update applies edits to an item owned by the session user.
func (s *Service) Update(ctx context.Context, sess session.Session, id string, req UpdateRequest) (*store.ContentItem, error) {
	item, err := s.owned(ctx, sess, "update", id)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&item.Text, req.Text)
	set(&item.Language, req.Language)
	set(&item.ContentType, req.ContentType)
	set(&item.Region, req.Region)
	set(&item.Category, req.Category)
	set(&item.Source, req.Source)
	set(&item.Dialect, req.Dialect)
	set(&item.CulturalContext, req.CulturalContext)
	if req.Status != nil {
		status, ok := store.ParseContentStatus(*req.Status)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "content", "update", fmt.Sprintf("unknown status %q", *req.Status), nil)
		}
		item.Status = status
	}

	result := validation.ValidateContent(validation.ContentInput{
		Text:            item.Text,
		Language:        item.Language,
		ContentType:     item.ContentType,
		Region:          item.Region,
		Category:        item.Category,
		Source:          item.Source,
		Dialect:         item.Dialect,
		CulturalContext: item.CulturalContext,
	})
	if !result.Valid {
		return nil, services.Wrap(services.ErrValidation, "content", "update", result.Error(), nil)
	}
	lang, _ := language.Parse(item.Language)
	item.Language = string(lang)

	if err := s.store.UpdateContent(ctx, item); err != nil {
		return nil, services.Wrap(services.ErrTransient, "content", "update", "persist content", err)
	}
	return item, nil
}

// Delete removes an item owned by the session user.
func (s *Service) Delete(ctx context.Context, sess session.Session, id string) error {
	if _, err := s.owned(ctx, sess, "delete", id); err != nil {
		return err
	}
	if err := s.store.DeleteContent(ctx, id); err != nil {
		return services.Wrap(services.ErrTransient, "content", "delete", "delete content", err)
	}
	return nil
}

func (s *Service) owned(ctx context.Context, sess session.Session, op, id string) (*store.ContentItem, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sess.RequireOwner("content", op, item.UserID); err != nil {
		return nil, err
	}
	return item, nil
}

// Get returns one item or a not-found error.
func (s *Service) Get(ctx context.Context, id string) (*store.ContentItem, error) {
	item, err := s.store.GetContent(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "content", "get", "load content", err)
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "content", "get", fmt.Sprintf("content %s not found", id), nil)
	}
	return item, nil
}

// List returns items matching filter, newest first. The language filter
// accepts any case.
func (s *Service) List(ctx context.Context, filter store.ContentFilter) ([]store.ContentItem, error) {
	if filter.Language != "" {
		lang, ok := language.Parse(filter.Language)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "content", "list", fmt.Sprintf("unsupported language %q", filter.Language), nil)
		}
		filter.Language = string(lang)
	}
	items, err := s.store.ListContent(ctx, filter)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "content", "list", "query content", err)
	}
	return items, nil
}

// Search matches term case-insensitively against text, category, and
// cultural context, newest first.
func (s *Service) Search(ctx context.Context, term, lang string) ([]store.ContentItem, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, services.Wrap(services.ErrValidation, "content", "search", "search term is required", nil)
	}
	items, err := s.List(ctx, store.ContentFilter{Language: lang})
	if err != nil {
		return nil, err
	}
	matches := make([]store.ContentItem, 0, len(items))
	for _, item := range items {
		if textutil.ContainsFold(item.Text, term) ||
			(item.Category != "" && textutil.ContainsFold(item.Category, term)) ||
			(item.CulturalContext != "" && textutil.ContainsFold(item.CulturalContext, term)) {
			matches = append(matches, item)
		}
	}
	return matches, nil
}

// Stats summarises published content.
func (s *Service) Stats(ctx context.Context) (store.ContentStats, error) {
	stats, err := s.store.PublishedStats(ctx)
	if err != nil {
		return stats, services.Wrap(services.ErrTransient, "content", "stats", "aggregate content", err)
	}
	return stats, nil
}

// SortedKeys returns the keys of a count map in descending count order, ties
// by name.
func SortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
