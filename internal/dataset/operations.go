package dataset

import (
	"context"
	"fmt"

	"bhasha/internal/language"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/textutil"
	"bhasha/internal/tokenstats"
	"bhasha/internal/validation"
)

// DefaultPreviewLimit is the number of entries Preview returns by default.
const DefaultPreviewLimit = 10

// Get returns a dataset or a not-found error.
func (b *Builder) Get(ctx context.Context, id string) (*store.Dataset, error) {
	ds, err := b.store.GetDataset(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "get", "load dataset", err)
	}
	if ds == nil {
		return nil, services.Wrap(services.ErrNotFound, "dataset", "get", fmt.Sprintf("dataset %s not found", id), nil)
	}
	return ds, nil
}

// List returns datasets matching filter, newest first.
func (b *Builder) List(ctx context.Context, filter store.DatasetFilter) ([]store.Dataset, error) {
	if filter.Language != "" {
		lang, ok := language.Parse(filter.Language)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "dataset", "list", fmt.Sprintf("unsupported language %q", filter.Language), nil)
		}
		filter.Language = string(lang)
	}
	out, err := b.store.ListDatasets(ctx, filter)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "list", "query datasets", err)
	}
	return out, nil
}

// Preview returns the first limit member items that still exist.
func (b *Builder) Preview(ctx context.Context, id string, limit int) ([]store.ContentItem, error) {
	ds, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	ids := ds.EntryIDs
	if len(ids) > limit {
		ids = ids[:limit]
	}
	items, err := b.store.GetContentByIDs(ctx, ids)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "preview", "load entries", err)
	}
	return items, nil
}

// Stats summarises a dataset.
type Stats struct {
	TotalEntries      int                      `json:"totalEntries"`
	LiveEntries       int                      `json:"liveEntries"`
	AvgTokens         float64                  `json:"avgTokens"`
	Regions           []string                 `json:"regions"`
	Categories        []string                 `json:"categories"`
	QualityScore      float64                  `json:"qualityScore"`
	Language          string                   `json:"language"`
	ContentType       string                   `json:"contentType"`
	TokenDistribution *tokenstats.Distribution `json:"tokenDistribution,omitempty"`
}

// Stats reports stored metadata plus how many members still exist.
func (b *Builder) Stats(ctx context.Context, id string) (*Stats, error) {
	ds, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := b.store.GetContentByIDs(ctx, ds.EntryIDs)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "stats", "load entries", err)
	}
	return &Stats{
		TotalEntries:      ds.Size,
		LiveEntries:       len(items),
		AvgTokens:         ds.Metadata.AvgTokens,
		Regions:           ds.Metadata.Regions,
		Categories:        ds.Metadata.Categories,
		QualityScore:      ds.QualityScore,
		Language:          ds.Language,
		ContentType:       ds.ContentType,
		TokenDistribution: ds.Metadata.TokenDistribution,
	}, nil
}

// NormalizeOptions selects which filters Normalize re-applies. Zero length
// bounds fall back to the content validation limits.
type NormalizeOptions struct {
	MinLength        int
	MaxLength        int
	MinQuality       *float64
	RemoveDuplicates bool
}

// NormalizeResult reports the effect of Normalize.
type NormalizeResult struct {
	OriginalSize int `json:"originalSize"`
	NewSize      int `json:"newSize"`
	Removed      int `json:"removed"`
}

// Normalize re-filters an owned dataset's current members in place and
// recomputes its metadata. Members deleted since the build are dropped.
func (b *Builder) Normalize(ctx context.Context, sess session.Session, id string, opts NormalizeOptions) (*NormalizeResult, error) {
	ds, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sess.RequireOwner("dataset", "normalize", ds.UserID); err != nil {
		return nil, err
	}
	minLen, maxLen := opts.MinLength, opts.MaxLength
	if minLen <= 0 {
		minLen = validation.MinTextLength
	}
	if maxLen <= 0 {
		maxLen = validation.MaxTextLength
	}

	items, err := b.store.GetContentByIDs(ctx, ds.EntryIDs)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "normalize", "load entries", err)
	}
	kept := make([]store.ContentItem, 0, len(items))
	for _, item := range items {
		n := textutil.CharLength(textutil.NormalizeText(item.Text))
		if n < minLen || n > maxLen {
			continue
		}
		if opts.MinQuality != nil && item.QualityScore < *opts.MinQuality {
			continue
		}
		kept = append(kept, item)
	}
	if opts.RemoveDuplicates {
		kept, _ = textutil.DedupeStrict(kept, func(c store.ContentItem) string { return c.Text })
	}

	original := ds.Size
	applyMembers(ds, kept)
	if err := b.store.UpdateDataset(ctx, ds); err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "normalize", "persist dataset", err)
	}
	return &NormalizeResult{OriginalSize: original, NewSize: ds.Size, Removed: original - ds.Size}, nil
}
