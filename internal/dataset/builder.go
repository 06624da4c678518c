package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"bhasha/internal/language"
	"bhasha/internal/logging"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/textutil"
	"bhasha/internal/tokenstats"
)

// Builder creates and maintains datasets.
type Builder struct {
	store  *store.Store
	logger *slog.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(st *store.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{store: st, logger: logger.With(logging.String(logging.FieldComponent, "dataset"))}
}

// CreateRequest selects content for a new dataset.
type CreateRequest struct {
	Name        string
	Language    string
	ContentType string
	MinQuality  *float64
	ContentIDs  []string
}

// BuildResult is a persisted dataset plus the number of exact duplicates
// dropped while building it.
type BuildResult struct {
	Dataset           *store.Dataset
	DuplicatesRemoved int
}

// Create builds a dataset from published content. An empty selection yields
// a valid zero-size dataset.
func (b *Builder) Create(ctx context.Context, sess session.Session, req CreateRequest) (*BuildResult, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, "dataset", "create", "dataset name is required", nil)
	}
	lang, ok := language.Parse(req.Language)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "dataset", "create", fmt.Sprintf("unsupported language %q", req.Language), nil)
	}

	published, err := b.store.PublishedContent(ctx, string(lang))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "create", "load published content", err)
	}
	selected := filterContent(published, req)

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = store.MixedContentType
	}
	return b.persist(ctx, sess.UserID, name, string(lang), contentType, selected)
}

func filterContent(items []store.ContentItem, req CreateRequest) []store.ContentItem {
	var allow map[string]struct{}
	if len(req.ContentIDs) > 0 {
		allow = make(map[string]struct{}, len(req.ContentIDs))
		for _, id := range req.ContentIDs {
			allow[id] = struct{}{}
		}
	}
	out := make([]store.ContentItem, 0, len(items))
	for _, item := range items {
		if req.ContentType != "" && item.ContentType != req.ContentType {
			continue
		}
		if req.MinQuality != nil && item.QualityScore < *req.MinQuality {
			continue
		}
		if allow != nil {
			if _, ok := allow[item.ID]; !ok {
				continue
			}
		}
		out = append(out, item)
	}
	return out
}

// BuildFromIDs builds a dataset from exactly the given content ids regardless
// of publication status. Language and content type are the most frequent
// values among the members; a tie goes to the value reaching the top count
// last.
func (b *Builder) BuildFromIDs(ctx context.Context, userID, name string, ids []string) (*BuildResult, error) {
	items, err := b.store.GetContentByIDs(ctx, ids)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "build", "load content", err)
	}
	langs := make([]string, len(items))
	types := make([]string, len(items))
	for i, item := range items {
		langs[i] = item.Language
		types[i] = item.ContentType
	}
	contentType := Majority(types)
	if contentType == "" {
		contentType = store.MixedContentType
	}
	return b.persist(ctx, userID, name, Majority(langs), contentType, items)
}

// Majority returns the most frequent value. Among values sharing the top
// count, the one that reached it last in input order wins.
func Majority(values []string) string {
	counts := make(map[string]int, len(values))
	best, bestCount := "", 0
	for _, v := range values {
		counts[v]++
		if counts[v] >= bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

func (b *Builder) persist(ctx context.Context, userID, name, lang, contentType string, items []store.ContentItem) (*BuildResult, error) {
	unique, removed := textutil.DedupeStrict(items, func(c store.ContentItem) string { return c.Text })
	if removed > 0 {
		b.logger.Info(fmt.Sprintf("Removed %d duplicate entries", removed),
			logging.Int("duplicates_removed", removed),
			logging.String("dataset_name", name),
		)
	}

	ds := &store.Dataset{
		UserID:      userID,
		Name:        name,
		Language:    lang,
		ContentType: contentType,
		Status:      store.DatasetReady,
	}
	applyMembers(ds, unique)
	if err := b.store.InsertDataset(ctx, ds); err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "create", "persist dataset", err)
	}

	if err := b.store.RecordActivity(ctx, &store.Activity{
		UserID:    userID,
		Action:    store.ActionDatasetCreated,
		DatasetID: ds.ID,
		Metadata:  map[string]any{"size": ds.Size, "language": ds.Language},
	}); err != nil {
		logging.WarnWithContext(b.logger, "activity not recorded", "activity_failed",
			logging.String(logging.FieldDatasetID, ds.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "activity feed misses this dataset"),
		)
	}
	b.logger.Info("dataset created",
		logging.String(logging.FieldDatasetID, ds.ID),
		logging.Int("size", ds.Size),
		logging.String(logging.FieldEventType, "dataset_created"),
	)
	return &BuildResult{Dataset: ds, DuplicatesRemoved: removed}, nil
}

// applyMembers sets entry ids and recomputes every derived field.
func applyMembers(ds *store.Dataset, items []store.ContentItem) {
	ids := make([]string, len(items))
	texts := make([]string, len(items))
	regions := map[string]struct{}{}
	categories := map[string]struct{}{}
	total := 0.0
	for i, item := range items {
		ids[i] = item.ID
		texts[i] = item.Text
		total += item.QualityScore
		if item.Region != "" {
			regions[item.Region] = struct{}{}
		}
		if item.Category != "" {
			categories[item.Category] = struct{}{}
		}
	}
	dist := tokenstats.Analyze(texts)

	ds.EntryIDs = ids
	ds.Size = len(ids)
	ds.QualityScore = 0
	if len(items) > 0 {
		ds.QualityScore = total / float64(len(items))
	}
	ds.Metadata = store.DatasetMetadata{
		AvgTokens:         dist.Avg,
		Regions:           sortedSet(regions),
		Categories:        sortedSet(categories),
		TokenDistribution: &dist,
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
