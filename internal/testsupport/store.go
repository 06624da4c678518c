package testsupport

import (
	"context"
	"fmt"
	"testing"

	"bhasha/internal/config"
	"bhasha/internal/queue"
	"bhasha/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustOpenQueue opens a queue.Queue for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *queue.Queue {
	t.Helper()

	q, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		q.Close()
	})
	return q
}

// NewContent inserts a content item for tests.
func NewContent(t testing.TB, st *store.Store, userID, language, text string, status store.ContentStatus, quality float64) *store.ContentItem {
	t.Helper()

	item := &store.ContentItem{
		UserID:       userID,
		Text:         text,
		Language:     language,
		ContentType:  "text",
		Status:       status,
		QualityScore: quality,
	}
	if err := st.InsertContent(context.Background(), item); err != nil {
		t.Fatalf("store.InsertContent: %v", err)
	}
	return item
}

// SeedPublished inserts n distinct published items in language.
func SeedPublished(t testing.TB, st *store.Store, userID, language string, n int) []*store.ContentItem {
	t.Helper()

	items := make([]*store.ContentItem, 0, n)
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("published sample sentence number %d for training", i)
		items = append(items, NewContent(t, st, userID, language, text, store.ContentPublished, 5))
	}
	return items
}
