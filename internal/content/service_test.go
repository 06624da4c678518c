package content_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"bhasha/internal/content"
	"bhasha/internal/logging"
	"bhasha/internal/quality"
	"bhasha/internal/queue"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/testsupport"
)

type fixture struct {
	svc   *content.Service
	store *store.Store
	queue *queue.Queue
	sess  session.Session
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := testsupport.MustOpenQueue(t, cfg)
	return fixture{
		svc:   content.NewService(cfg, st, q, logging.NewNop()),
		store: st,
		queue: q,
		sess:  session.New("asha"),
	}
}

func TestCreateStoresDraftWithZeroQuality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.Create(ctx, f.sess, content.CreateRequest{
		Text:        "  नदी के किनारे एक छोटा सा गाँव था  ",
		Language:    "Hindi",
		ContentType: "narrative",
		Region:      "Awadh",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if item.Status != store.ContentDraft || item.QualityScore != 0 || item.Language != "hindi" {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.Text != "नदी के किनारे एक छोटा सा गाँव था" {
		t.Fatalf("expected trimmed text, got %q", item.Text)
	}
	activities, err := f.store.ListActivities(ctx, "asha", 10)
	if err != nil || len(activities) != 1 || activities[0].Action != store.ActionContentCreated {
		t.Fatalf("activities = %+v, %v", activities, err)
	}
	stats, _ := f.queue.Stats(ctx)
	if stats.Total() != 0 {
		t.Fatalf("analysis should not be scheduled, queue=%+v", stats)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.sess, content.CreateRequest{
		Text:        "short",
		Language:    "klingon",
		ContentType: "poem",
		Region:      strings.Repeat("r", 101),
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, want := range []string{"10", "language", "content type", "region"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestCreateRequiresSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), session.Session{}, content.CreateRequest{})
	if !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestCreateRejectsNearDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original, err := f.svc.Create(ctx, f.sess, content.CreateRequest{
		Text: "one two three four five six seven eight nine ten", Language: "tamil", ContentType: "text",
	})
	if err != nil {
		t.Fatalf("Create original: %v", err)
	}

	_, err = f.svc.Create(ctx, f.sess, content.CreateRequest{
		Text: "ONE two three four five six seven eight nine ten", Language: "tamil", ContentType: "text",
	})
	var dup *content.DuplicateContentError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateContentError, got %v", err)
	}
	if dup.MatchID != original.ID || dup.Percent() != 100 {
		t.Fatalf("unexpected duplicate %+v", dup)
	}
	if !errors.Is(err, services.ErrDuplicate) {
		t.Fatal("duplicate error should classify as ErrDuplicate")
	}
	if !strings.Contains(err.Error(), original.ID) || !strings.Contains(err.Error(), "100%") {
		t.Fatalf("message should cite id and percentage: %v", err)
	}

	// Same text in another language is not a duplicate.
	if _, err := f.svc.Create(ctx, f.sess, content.CreateRequest{
		Text: "one two three four five six seven eight nine ten", Language: "telugu", ContentType: "text",
	}); err != nil {
		t.Fatalf("cross-language create: %v", err)
	}
	// 9 of 11 shared tokens (0.82) stays below the threshold.
	if _, err := f.svc.Create(ctx, f.sess, content.CreateRequest{
		Text: "one two three four five six seven eight nine eleven", Language: "tamil", ContentType: "text",
	}); err != nil {
		t.Fatalf("below-threshold create: %v", err)
	}
}

func TestUpdateAndDeleteRequireOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, err := f.svc.Create(ctx, f.sess, content.CreateRequest{
		Text: "A proverb about patience and rain", Language: "marathi", ContentType: "proverb",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	other := session.New("ravi")
	published := "published"
	if _, err := f.svc.Update(ctx, other, item.ID, content.UpdateRequest{Status: &published}); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if err := f.svc.Delete(ctx, other, item.ID); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	updated, err := f.svc.Update(ctx, f.sess, item.ID, content.UpdateRequest{Status: &published})
	if err != nil || updated.Status != store.ContentPublished {
		t.Fatalf("Update = %+v, %v", updated, err)
	}
	tooShort := "tiny"
	if _, err := f.svc.Update(ctx, f.sess, item.ID, content.UpdateRequest{Text: &tooShort}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := f.svc.Delete(ctx, f.sess, item.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, item.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSearchMatchesTextCategoryAndContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mk := func(text, category, cultural, lang string) {
		t.Helper()
		if _, err := f.svc.Create(ctx, f.sess, content.CreateRequest{
			Text: text, Language: lang, ContentType: "text", Category: category, CulturalContext: cultural,
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	mk("The Monsoon arrives over the western ghats", "", "", "kannada")
	mk("A story told at harvest time in the village", "Festivals", "", "kannada")
	mk("Lullaby sung by grandmothers at dusk", "", "monsoon evenings", "kannada")
	mk("The monsoon in Kolkata floods the lanes", "", "", "bengali")

	hits, err := f.svc.Search(ctx, "MONSOON", "kannada")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 kannada hits, got %d", len(hits))
	}
	if hits, _ := f.svc.Search(ctx, "festivals", ""); len(hits) != 1 {
		t.Fatalf("expected category match, got %d", len(hits))
	}
	if _, err := f.svc.Search(ctx, "  ", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty term, got %v", err)
	}
}

func TestCreateSchedulesAnalysisAndHandlerScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, err := f.svc.Create(ctx, f.sess, content.CreateRequest{
		Text: "A riddle shared among fishermen of the coast", Language: "malayalam", ContentType: "text",
		EnableAIAnalysis: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	task, err := f.queue.ClaimNext(ctx)
	if err != nil || task == nil || task.Kind != content.TaskAnalyze || task.Key != item.ID {
		t.Fatalf("expected analyze task, got %+v, %v", task, err)
	}

	handler := content.NewAnalyzeHandler(f.store, stubAnalyzer{score: 8.25}, logging.NewNop())
	if err := handler.Handle(ctx, task); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, _ := f.store.GetContent(ctx, item.ID)
	if got.QualityScore != 8.25 || len(got.AIAnalysis) == 0 {
		t.Fatalf("expected scored content, got %+v", got)
	}
}

func TestAnalyzeHandlerFallsBackToNeutral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "asha", "odia", "A song from the temple festival of Puri", store.ContentDraft, 0)
	task, err := f.queue.Enqueue(ctx, content.TaskAnalyze, item.ID, content.AnalyzePayload{ContentID: item.ID})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	handler := content.NewAnalyzeHandler(f.store, stubAnalyzer{err: errors.New("quota exceeded")}, logging.NewNop())
	if err := handler.Handle(ctx, task); err != nil {
		t.Fatalf("Handle should swallow analyzer failure: %v", err)
	}
	got, _ := f.store.GetContent(ctx, item.ID)
	if got.QualityScore != quality.NeutralScore {
		t.Fatalf("expected neutral score, got %v", got.QualityScore)
	}

	missing, _ := f.queue.Enqueue(ctx, content.TaskAnalyze, "gone", content.AnalyzePayload{ContentID: "gone"})
	if err := handler.Handle(ctx, missing); err != nil {
		t.Fatalf("missing content should be skipped, got %v", err)
	}
}

type stubAnalyzer struct {
	score float64
	err   error
}

func (s stubAnalyzer) Analyze(context.Context, quality.Request) (quality.Result, error) {
	if s.err != nil {
		return quality.Result{}, s.err
	}
	return quality.Result{Score: s.score, Analysis: &quality.Analysis{Reasoning: "stub"}}, nil
}
