package providers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bhasha/internal/dataset"
	"bhasha/internal/hyperparams"
	"bhasha/internal/providers"
	"bhasha/internal/services"
	"bhasha/internal/store"
	"bhasha/internal/testsupport"
)

func TestMapStatus(t *testing.T) {
	tests := map[string]store.JobStatus{
		"succeeded": store.JobCompleted,
		"SUCCESS":   store.JobCompleted,
		"finished":  store.JobCompleted,
		"done":      store.JobCompleted,
		"failed":    store.JobFailed,
		"Error":     store.JobFailed,
		"canceled":  store.JobCancelled,
		"cancelled": store.JobCancelled,
		"queued":    store.JobRunning,
		"":          store.JobRunning,
	}
	for raw, want := range tests {
		if got := providers.MapStatus(raw); got != want {
			t.Fatalf("MapStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	reg := providers.NewRegistry(providers.NewOpenAI(cfg))
	if _, err := reg.Get("OpenAI"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := reg.Get("anthropic"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func sampleRequest(connectionID string) providers.SubmitRequest {
	job := &store.FinetuneJob{
		ID:           "job-1",
		Model:        "base-model",
		ConnectionID: connectionID,
		Parameters:   hyperparams.Params{LearningRate: 6e-5, BatchSize: 8, Epochs: 3, LoraRank: 8, LoraAlpha: 32},
	}
	ds := &store.Dataset{Name: "hi", Language: "hindi", Size: 3, QualityScore: 7}
	return providers.SubmitRequest{
		Job:     job,
		Dataset: ds,
		Partitions: &dataset.Partitions{
			Train:      []store.ContentItem{{Text: "pehla vakya"}, {Text: "doosra vakya"}},
			Validation: []store.ContentItem{{Text: "teesra vakya"}},
		},
	}
}

func TestOpenAISubmitUploadsFilesAndCreatesJob(t *testing.T) {
	var mu sync.Mutex
	var uploads []string
	var created map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/files":
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
				return
			}
			data, _ := io.ReadAll(file)
			if r.FormValue("purpose") != "fine-tune" {
				t.Errorf("unexpected purpose %q", r.FormValue("purpose"))
			}
			uploads = append(uploads, header.Filename)
			if header.Filename == "training.jsonl" && !strings.Contains(string(data), "trained on hindi language data") {
				t.Errorf("training file missing system prompt: %s", data)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-" + header.Filename})
		case "/fine_tuning/jobs":
			_ = json.NewDecoder(r.Body).Decode(&created)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "ftjob-42", "status": "queued"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithOpenAI(server.URL, "sk-test"))
	p := providers.NewOpenAI(cfg, providers.WithOpenAIHTTPClient(server.Client()))
	id, err := p.Submit(context.Background(), sampleRequest(""))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "ftjob-42" {
		t.Fatalf("unexpected id %q", id)
	}
	if len(uploads) != 2 {
		t.Fatalf("expected training and validation uploads, got %v", uploads)
	}
	if created["training_file"] != "file-training.jsonl" || created["validation_file"] != "file-validation.jsonl" {
		t.Fatalf("unexpected job request %v", created)
	}
	if created["suffix"] != "bhasha-hindi" || created["model"] != "base-model" {
		t.Fatalf("unexpected job request %v", created)
	}
	hp := created["hyperparameters"].(map[string]any)
	if hp["n_epochs"].(float64) != 3 || hp["batch_size"].(float64) != 8 {
		t.Fatalf("unexpected hyperparameters %v", hp)
	}
	if m := hp["learning_rate_multiplier"].(float64); m < 1.99 || m > 2.01 {
		t.Fatalf("expected multiplier 2, got %v", m)
	}
}

func TestOpenAISubmitRequiresKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.OpenAI.APIKey = ""
	p := providers.NewOpenAI(cfg)
	if _, err := p.Submit(context.Background(), sampleRequest("")); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestOpenAIPollAndCancel(t *testing.T) {
	var cancelled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/fine_tuning/jobs/ftjob-42/cancel":
			cancelled = true
			_, _ = w.Write([]byte(`{"id":"ftjob-42","status":"cancelled"}`))
		case r.URL.Path == "/fine_tuning/jobs/ftjob-42":
			_, _ = w.Write([]byte(`{"id":"ftjob-42","status":"succeeded","fine_tuned_model":"ft:base:bhasha-hindi","trained_tokens":1200,"hyperparameters":{"n_epochs":3}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithOpenAI(server.URL, "sk-test"))
	p := providers.NewOpenAI(cfg, providers.WithOpenAIHTTPClient(server.Client()))
	job := &store.FinetuneJob{ProviderJobID: "ftjob-42"}
	update, err := p.Poll(context.Background(), job)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if update.Status != store.JobCompleted || update.ModelID != "ft:base:bhasha-hindi" || update.Steps != 1200 || update.Epoch != 3 {
		t.Fatalf("unexpected update %+v", update)
	}
	if err := p.Cancel(context.Background(), job); err != nil || !cancelled {
		t.Fatalf("Cancel: %v (called %v)", err, cancelled)
	}
}

func newConnection(t *testing.T, st *store.Store, conn *store.Connection) *store.Connection {
	t.Helper()
	if conn.UserID == "" {
		conn.UserID = "asha"
	}
	if err := st.InsertConnection(context.Background(), conn); err != nil {
		t.Fatalf("insert connection: %v", err)
	}
	return conn
}

func TestCustomSubmitRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer auth")
		}
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"task_id": 981}`))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Finetune.SubmitAttempts = 3
	st := testsupport.MustOpenStore(t, cfg)
	conn := newConnection(t, st, &store.Connection{Name: "lab", APIEndpoint: server.URL + "/train", AuthType: "bearer", APIKey: "tok", DataFormat: "json"})

	var sleeps []time.Duration
	cfg.Finetune.SubmitBackoffSeconds = 2
	p := providers.NewCustom(cfg, st,
		providers.WithCustomHTTPClient(server.Client()),
		providers.WithCustomSleeper(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)
	id, err := p.Submit(context.Background(), sampleRequest(conn.ID))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "981" || attempts != 3 {
		t.Fatalf("id=%q attempts=%d", id, attempts)
	}
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 2*time.Second {
		t.Fatalf("expected two fixed 2s backoffs, got %v", sleeps)
	}
	train, ok := body["training_data"].([]any)
	if !ok || len(train) != 2 {
		t.Fatalf("json data format should send an array, got %T", body["training_data"])
	}
	if body["model_identifier"] != "hindi" {
		t.Fatalf("model identifier should default to the language, got %v", body["model_identifier"])
	}
	params := body["parameters"].(map[string]any)
	if params["lora_alpha"].(float64) != 32 {
		t.Fatalf("unexpected parameters %v", params)
	}
}

func TestCustomSubmitGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Finetune.SubmitAttempts = 3
	st := testsupport.MustOpenStore(t, cfg)
	conn := newConnection(t, st, &store.Connection{Name: "lab", APIEndpoint: server.URL, AuthType: "none", DataFormat: "jsonl"})
	p := providers.NewCustom(cfg, st, providers.WithCustomHTTPClient(server.Client()))
	_, err := p.Submit(context.Background(), sampleRequest(conn.ID))
	if !errors.Is(err, services.ErrProvider) || attempts != 3 {
		t.Fatalf("expected provider error after 3 attempts, got %v after %d", err, attempts)
	}
}

func TestCustomSubmitStopsBackoffOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
		time.AfterFunc(20*time.Millisecond, cancel)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Finetune.SubmitAttempts = 3
	cfg.Finetune.SubmitBackoffSeconds = 600
	st := testsupport.MustOpenStore(t, cfg)
	conn := newConnection(t, st, &store.Connection{Name: "lab", APIEndpoint: server.URL, AuthType: "none", DataFormat: "jsonl"})
	p := providers.NewCustom(cfg, st, providers.WithCustomHTTPClient(server.Client()))

	start := time.Now()
	_, err := p.Submit(ctx, sampleRequest(conn.ID))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("backoff ignored cancellation, took %v", elapsed)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestCustomSubmitFallbackIDAndStringFormats(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key-1" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"accepted": true}`))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	conn := newConnection(t, st, &store.Connection{Name: "lab", APIEndpoint: server.URL, AuthType: "api_key", APIKey: "key-1", DataFormat: "csv", ModelIdentifier: "llama-indic"})
	p := providers.NewCustom(cfg, st, providers.WithCustomHTTPClient(server.Client()))
	id, err := p.Submit(context.Background(), sampleRequest(conn.ID))
	if err != nil || id != "custom-job" {
		t.Fatalf("Submit = %q, %v", id, err)
	}
	train, ok := body["training_data"].(string)
	if !ok || !strings.HasPrefix(train, "split,text,") {
		t.Fatalf("csv data format should send a string, got %v", body["training_data"])
	}
	if body["model_identifier"] != "llama-indic" {
		t.Fatalf("unexpected model identifier %v", body["model_identifier"])
	}
}

func TestCustomSubmitRejectsInactiveConnection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	conn := newConnection(t, st, &store.Connection{Name: "lab", APIEndpoint: "http://127.0.0.1:1", AuthType: "none", DataFormat: "jsonl"})
	if err := st.SetConnectionActive(context.Background(), conn.ID, false); err != nil {
		t.Fatalf("SetConnectionActive: %v", err)
	}
	p := providers.NewCustom(cfg, st)
	if _, err := p.Submit(context.Background(), sampleRequest(conn.ID)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := p.Submit(context.Background(), sampleRequest("missing")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCustomPollReadsFlexibleFields(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  store.JobStatus
		loss    []float64
		steps   int
		epoch   int
		modelID string
	}{
		{
			name:   "nested metrics",
			body:   `{"status":"running","metrics":{"loss":[0.9,0.7],"steps":40,"epoch":2}}`,
			status: store.JobRunning, loss: []float64{0.9, 0.7}, steps: 40, epoch: 2,
		},
		{
			name:   "flat fields",
			body:   `{"state":"Finished","loss":0.3,"iterations":120,"current_epoch":3,"fine_tuned_model":"indic-ft-1"}`,
			status: store.JobCompleted, loss: []float64{0.3}, steps: 120, epoch: 3, modelID: "indic-ft-1",
		},
		{
			name:   "alternate status key",
			body:   `{"job_status":"canceled"}`,
			status: store.JobCancelled,
		},
		{
			name:   "no status",
			body:   `{}`,
			status: store.JobRunning,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotPath string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			cfg := testsupport.NewConfig(t)
			st := testsupport.MustOpenStore(t, cfg)
			conn := newConnection(t, st, &store.Connection{Name: "lab", APIEndpoint: server.URL + "/train", StatusEndpoint: server.URL + "/jobs", AuthType: "none", DataFormat: "jsonl"})
			p := providers.NewCustom(cfg, st, providers.WithCustomHTTPClient(server.Client()))
			update, err := p.Poll(context.Background(), &store.FinetuneJob{ConnectionID: conn.ID, ProviderJobID: "abc"})
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if gotPath != "/jobs/abc" {
				t.Fatalf("expected status endpoint, got %s", gotPath)
			}
			if update.Status != tc.status || update.Steps != tc.steps || update.Epoch != tc.epoch || update.ModelID != tc.modelID {
				t.Fatalf("unexpected update %+v", update)
			}
			if len(update.Loss) != len(tc.loss) {
				t.Fatalf("loss = %v, want %v", update.Loss, tc.loss)
			}
			for i := range tc.loss {
				if update.Loss[i] != tc.loss[i] {
					t.Fatalf("loss = %v, want %v", update.Loss, tc.loss)
				}
			}
		})
	}
}

func TestCustomPollDoesNotRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	conn := newConnection(t, st, &store.Connection{Name: "lab", APIEndpoint: server.URL, AuthType: "none", DataFormat: "jsonl"})
	p := providers.NewCustom(cfg, st, providers.WithCustomHTTPClient(server.Client()))
	if _, err := p.Poll(context.Background(), &store.FinetuneJob{ConnectionID: conn.ID, ProviderJobID: "x"}); !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("poll should not retry, got %d attempts", attempts)
	}
}

func TestStatusURL(t *testing.T) {
	conn := &store.Connection{APIEndpoint: "https://llm.example/train/"}
	if got := providers.StatusURL(conn, "j 1"); got != "https://llm.example/train/j%201" {
		t.Fatalf("StatusURL = %s", got)
	}
	conn.StatusEndpoint = "https://llm.example/status"
	if got := providers.StatusURL(conn, "j1"); got != "https://llm.example/status/j1" {
		t.Fatalf("StatusURL = %s", got)
	}
}
