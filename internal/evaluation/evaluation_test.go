package evaluation_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"bhasha/internal/evaluation"
	"bhasha/internal/logging"
	"bhasha/internal/services"
	"bhasha/internal/services/llm"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/testsupport"
)

type fakeCompleter struct {
	mu      sync.Mutex
	replies map[string]string
	fail    map[string]error
	models  []string
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, req.Model)
	if err := f.fail[req.Model]; err != nil {
		return "", err
	}
	return f.replies[req.Model], nil
}

func newJob(t *testing.T, st *store.Store, userID string, status store.JobStatus, modelID string) *store.FinetuneJob {
	t.Helper()
	job := &store.FinetuneJob{UserID: userID, DatasetID: "ds-1", Status: status, Provider: "openai", Model: "gpt-4o-mini", ModelID: modelID}
	if err := st.InsertJob(context.Background(), job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	return job
}

func TestBLEU(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		reference string
		want      float64
	}{
		{"identical", "the river flows east", "the river flows east", 1},
		{"repeats not clipped", "the the the the", "the river", 1},
		{"partial match", "the sea is calm", "the calm river", 0.5},
		{"brevity penalty", "river flows", "the river flows east", math.Round(math.Exp(1-2)*10000) / 10000},
		{"no overlap", "mountain", "river", 0},
		{"empty candidate", "", "river", 0},
		{"case folded", "The River", "the river", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := evaluation.BLEU(tc.candidate, tc.reference); got != tc.want {
				t.Fatalf("BLEU(%q, %q) = %v, want %v", tc.candidate, tc.reference, got, tc.want)
			}
		})
	}
}

func TestCulturalAccuracy(t *testing.T) {
	if got := evaluation.CulturalAccuracy("दीवाली रोशनी त्योहार", "दीवाली त्योहार मिठाई"); got != 0.5 {
		t.Fatalf("CulturalAccuracy = %v, want 0.5", got)
	}
	if got := evaluation.CulturalAccuracy("", ""); got != 0 {
		t.Fatalf("empty sets should score 0, got %v", got)
	}
}

func TestCreateValidatesOwnershipAndPrompt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	svc := evaluation.NewService(cfg, st, logging.NewNop(), evaluation.WithCompleter(&fakeCompleter{}))
	ctx := context.Background()
	job := newJob(t, st, "kavya", store.JobCompleted, "ft:model")

	if _, err := svc.Create(ctx, session.New("kavya"), evaluation.CreateRequest{JobID: job.ID, Prompt: "  "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Create(ctx, session.New("arjun"), evaluation.CreateRequest{JobID: job.ID, Prompt: "hello"}); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := svc.Create(ctx, session.New("kavya"), evaluation.CreateRequest{JobID: "nope", Prompt: "hello"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Create(ctx, session.Session{}, evaluation.CreateRequest{JobID: job.ID, Prompt: "hello"}); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}

	p, err := svc.Create(ctx, session.New("kavya"), evaluation.CreateRequest{JobID: job.ID, Prompt: " एक कहानी सुनाओ ", ExpectedOutput: "एक गाँव था"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Status != store.PromptPending || p.Prompt != "एक कहानी सुनाओ" {
		t.Fatalf("unexpected prompt %+v", p)
	}
	list, err := svc.ListByJob(ctx, session.New("kavya"), job.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByJob = %v, %v", list, err)
	}
	if _, err := svc.Get(ctx, session.New("arjun"), p.ID); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error on get, got %v", err)
	}
}

func TestEvaluateScoresFineTunedOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	fake := &fakeCompleter{replies: map[string]string{
		"gpt-4o-mini": "a story",
		"ft:model":    "एक गाँव था",
	}}
	svc := evaluation.NewService(cfg, st, logging.NewNop(), evaluation.WithCompleter(fake))
	ctx := context.Background()
	job := newJob(t, st, "kavya", store.JobCompleted, "ft:model")
	p, err := svc.Create(ctx, session.New("kavya"), evaluation.CreateRequest{JobID: job.ID, Prompt: "कहानी", ExpectedOutput: "एक गाँव था"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.Evaluate(ctx, p.ID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Status != store.PromptCompleted || got.BaseModelOutput != "a story" || got.FineTunedOutput != "एक गाँव था" {
		t.Fatalf("unexpected result %+v", got)
	}
	if got.BLEUScore == nil || *got.BLEUScore != 1 || got.CulturalAccuracy == nil || *got.CulturalAccuracy != 1 {
		t.Fatalf("unexpected scores bleu=%v cultural=%v", got.BLEUScore, got.CulturalAccuracy)
	}
	if strings.Join(fake.models, ",") != "gpt-4o-mini,ft:model" {
		t.Fatalf("models called = %v", fake.models)
	}
}

func TestEvaluateRecordsFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	fake := &fakeCompleter{
		replies: map[string]string{"gpt-4o-mini": "base"},
		fail:    map[string]error{"ft:model": errors.New("model not found")},
	}
	svc := evaluation.NewService(cfg, st, logging.NewNop(), evaluation.WithCompleter(fake))
	ctx := context.Background()
	job := newJob(t, st, "kavya", store.JobCompleted, "ft:model")
	p, _ := svc.Create(ctx, session.New("kavya"), evaluation.CreateRequest{JobID: job.ID, Prompt: "कहानी"})

	got, err := svc.Evaluate(ctx, p.ID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Status != store.PromptFailed || !strings.Contains(got.ErrorMessage, "model not found") {
		t.Fatalf("unexpected result %+v", got)
	}
	stored, _ := st.GetPrompt(ctx, p.ID)
	if stored.Status != store.PromptFailed || stored.BLEUScore != nil {
		t.Fatalf("unexpected stored prompt %+v", stored)
	}
}

func TestProcessPendingWaitsForFinishedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	fake := &fakeCompleter{replies: map[string]string{"gpt-4o-mini": "base"}}
	svc := evaluation.NewService(cfg, st, logging.NewNop(), evaluation.WithCompleter(fake))
	ctx := context.Background()
	sess := session.New("kavya")

	running := newJob(t, st, "kavya", store.JobRunning, "")
	failed := newJob(t, st, "kavya", store.JobFailed, "")
	waiting, _ := svc.Create(ctx, sess, evaluation.CreateRequest{JobID: running.ID, Prompt: "one"})
	for range 3 {
		if _, err := svc.Create(ctx, sess, evaluation.CreateRequest{JobID: failed.ID, Prompt: "two"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := svc.ProcessPending(ctx)
	if err != nil || n != 3 {
		t.Fatalf("ProcessPending = %d, %v", n, err)
	}
	still, _ := st.GetPrompt(ctx, waiting.ID)
	if still.Status != store.PromptPending {
		t.Fatalf("prompt on running job should stay pending, got %s", still.Status)
	}
	done, _ := svc.ListByJob(ctx, sess, failed.ID)
	for _, p := range done {
		if p.Status != store.PromptCompleted || p.FineTunedOutput != "" {
			t.Fatalf("unexpected prompt %+v", p)
		}
	}
}

func TestServiceUsesChatCompletionsAPI(t *testing.T) {
	var models []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		models = append(models, body.Model)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  नमस्ते  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithOpenAI(srv.URL, "sk-test"))
	st := testsupport.MustOpenStore(t, cfg)
	svc := evaluation.NewService(cfg, st, logging.NewNop())
	ctx := context.Background()
	job := newJob(t, st, "kavya", store.JobCompleted, "ft:custom")
	p, _ := svc.Create(ctx, session.New("kavya"), evaluation.CreateRequest{JobID: job.ID, Prompt: "greet", ExpectedOutput: "नमस्ते"})

	got, err := svc.Evaluate(ctx, p.ID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.FineTunedOutput != "नमस्ते" || got.BLEUScore == nil || *got.BLEUScore != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
	if len(models) != 2 || models[0] != "gpt-4o-mini" || models[1] != "ft:custom" {
		t.Fatalf("models = %v", models)
	}
}

func TestEvaluateWithoutKeyIsConfigurationError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	svc := evaluation.NewService(cfg, st, logging.NewNop())
	ctx := context.Background()
	job := newJob(t, st, "kavya", store.JobCompleted, "")
	p, _ := svc.Create(ctx, session.New("kavya"), evaluation.CreateRequest{JobID: job.ID, Prompt: "greet"})
	if _, err := svc.Evaluate(ctx, p.ID); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if n, err := svc.ProcessPending(ctx); n != 0 || err != nil {
		t.Fatalf("ProcessPending without key = %d, %v", n, err)
	}
}
