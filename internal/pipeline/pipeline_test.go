package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"bhasha/internal/content"
	"bhasha/internal/dataset"
	"bhasha/internal/external"
	"bhasha/internal/finetune"
	"bhasha/internal/logging"
	"bhasha/internal/notifications"
	"bhasha/internal/pipeline"
	"bhasha/internal/providers"
	"bhasha/internal/queue"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/testsupport"
	"bhasha/internal/workflow"
)

type stubProvider struct {
	mu        sync.Mutex
	submitted int
	err       error
	onSubmit  func()
}

func (p *stubProvider) Name() string { return providers.NameOpenAI }

func (p *stubProvider) Submit(context.Context, providers.SubmitRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted++
	if p.onSubmit != nil {
		p.onSubmit()
	}
	if p.err != nil {
		return "", p.err
	}
	return "ftjob-1", nil
}

func (p *stubProvider) Poll(context.Context, *store.FinetuneJob) (*providers.JobUpdate, error) {
	return &providers.JobUpdate{Status: store.JobRunning}, nil
}

func (p *stubProvider) Cancel(context.Context, *store.FinetuneJob) error { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last = payload
	return nil
}

type fixture struct {
	svc       *pipeline.Service
	store     *store.Store
	queue     *queue.Queue
	externals *external.Service
	manager   *workflow.Manager
	provider  *stubProvider
	notes     *recordingNotifier
	sess      session.Session
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := testsupport.MustOpenQueue(t, cfg)
	logger := logging.NewNop()

	builder := dataset.NewBuilder(st, logger)
	provider := &stubProvider{}
	jobs := finetune.NewService(cfg, st, builder, providers.NewRegistry(provider), logger)
	externals := external.NewService(cfg, st, logger)
	notes := &recordingNotifier{}
	svc := pipeline.NewService(cfg, pipeline.Deps{
		Store:     st,
		Queue:     q,
		Externals: externals,
		Contents:  content.NewService(cfg, st, q, logger),
		Datasets:  builder,
		Jobs:      jobs,
		Notifier:  notes,
	}, logger)

	mgr := workflow.NewManager(cfg, q, logger)
	mgr.Register(pipeline.TaskStep, pipeline.NewStepHandler(svc))
	return fixture{
		svc:       svc,
		store:     st,
		queue:     q,
		externals: externals,
		manager:   mgr,
		provider:  provider,
		notes:     notes,
		sess:      session.New("meera"),
	}
}

func (f fixture) upload(t *testing.T, name, raw string) *store.ExternalDataset {
	t.Helper()
	ext, err := f.externals.Create(context.Background(), f.sess, external.CreateRequest{Name: name, Raw: raw})
	if err != nil {
		t.Fatalf("external create: %v", err)
	}
	return ext
}

func (f fixture) drain(t *testing.T) int {
	t.Helper()
	n, err := f.manager.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	return n
}

func (f fixture) reload(t *testing.T, id string) *store.Pipeline {
	t.Helper()
	p, err := f.store.GetPipeline(context.Background(), id)
	if err != nil || p == nil {
		t.Fatalf("GetPipeline(%s) = %v, %v", id, p, err)
	}
	return p
}

func jsonlBatch(valid, missingText int) string {
	var b strings.Builder
	for i := range valid {
		fmt.Fprintf(&b, `{"body":"यह वाक्य संख्या %d है, गाँव के बारे में","lang":"hindi","kind":"text"}`+"\n", i)
	}
	for range missingText {
		b.WriteString(`{"lang":"hindi","kind":"text"}` + "\n")
	}
	return b.String()
}

var mapping = map[string]string{"text": "body", "language": "lang", "contentType": "kind"}

func TestPipelineIngestsValidRecordsAndLogsRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ext := f.upload(t, "village stories", jsonlBatch(100, 5))

	p, err := f.svc.Create(ctx, f.sess, pipeline.CreateRequest{
		ExternalDatasetID: ext.ID,
		Config:            store.PipelineConfig{FieldMappings: mapping, MinQualityThreshold: 6, DefaultStatus: "published"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Status != store.PipelinePending || p.TotalSteps != 3 || p.CurrentStep != 0 {
		t.Fatalf("unexpected new pipeline %+v", p)
	}

	if n := f.drain(t); n != 3 {
		t.Fatalf("expected 3 step tasks, handled %d", n)
	}
	got := f.reload(t, p.ID)
	if got.Status != store.PipelineCompleted || got.CurrentStep != 3 {
		t.Fatalf("status=%s step=%d", got.Status, got.CurrentStep)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("timestamps not set: %+v", got)
	}
	if len(got.ContentIDs) != 100 {
		t.Fatalf("expected 100 content ids, got %d", len(got.ContentIDs))
	}
	if len(got.ErrorLog) != 5 {
		t.Fatalf("expected 5 error lines, got %v", got.ErrorLog)
	}
	if !strings.HasPrefix(got.ErrorLog[0], "Row 101:") {
		t.Fatalf("unexpected first error %q", got.ErrorLog[0])
	}

	items, err := f.store.GetContentByIDs(ctx, got.ContentIDs[:1])
	if err != nil || len(items) != 1 {
		t.Fatalf("GetContentByIDs: %v, %v", items, err)
	}
	item := items[0]
	if item.UserID != "meera" || item.Source != "pipeline_import" || item.Status != store.ContentPublished || item.QualityScore != 6 {
		t.Fatalf("unexpected ingested item %+v", item)
	}

	src, err := f.externals.Load(ctx, ext.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src.Status != store.ExternalCompleted || src.TotalRecords != 105 || src.ProcessedRecords != 100 {
		t.Fatalf("unexpected source progress %+v", src)
	}
}

func TestPipelineCreatesDatasetAndSubmitsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := "text,language\n" +
		"আমার সোনার বাংলা আমি তোমায় ভালোবাসি,bengali\n" +
		"আমার সোনার বাংলা আমি তোমায় ভালোবাসি,bengali\n" +
		"নদীর ধারে একটি ছোট গ্রাম ছিল,\n"
	ext := f.upload(t, "bangla songs", raw)

	p, err := f.svc.Create(ctx, f.sess, pipeline.CreateRequest{
		ExternalDatasetID: ext.ID,
		Config: store.PipelineConfig{
			RemoveDuplicates:   true,
			AutoDetectLanguage: true,
			AutoCreateDataset:  true,
			AutoFinetune:       true,
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.TotalSteps != 5 || p.Config.FinetuneConfig == nil || p.Config.FinetuneConfig.Provider != providers.NameOpenAI {
		t.Fatalf("unexpected pipeline %+v", p)
	}
	f.drain(t)

	got := f.reload(t, p.ID)
	if got.Status != store.PipelineCompleted || got.CurrentStep != 5 {
		t.Fatalf("status=%s step=%d log=%v", got.Status, got.CurrentStep, got.ErrorLog)
	}
	if len(got.ContentIDs) != 2 {
		t.Fatalf("expected duplicates removed, got %d ids", len(got.ContentIDs))
	}
	ds, err := f.store.GetDataset(ctx, got.DatasetID)
	if err != nil || ds == nil {
		t.Fatalf("GetDataset: %v, %v", ds, err)
	}
	if ds.Name != "bangla songs" || ds.Language != "bengali" || ds.Size != 2 {
		t.Fatalf("unexpected dataset %+v", ds)
	}
	job, err := f.store.GetJob(ctx, got.FinetuneJobID)
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v, %v", job, err)
	}
	if job.Status != store.JobRunning || job.ProviderJobID != "ftjob-1" || job.DatasetID != ds.ID {
		t.Fatalf("unexpected job %+v", job)
	}
	if f.provider.submitted != 1 {
		t.Fatalf("expected one submission, got %d", f.provider.submitted)
	}
}

func TestPipelineProviderFailureFailsPipeline(t *testing.T) {
	f := newFixture(t)
	f.provider.err = services.Wrap(services.ErrProvider, "providers", "submit", "upload rejected", nil)
	ext := f.upload(t, "proverbs", jsonlBatch(3, 0))

	p, err := f.svc.Create(context.Background(), f.sess, pipeline.CreateRequest{
		ExternalDatasetID: ext.ID,
		Config:            store.PipelineConfig{FieldMappings: mapping, AutoCreateDataset: true, AutoFinetune: true},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.drain(t)

	got := f.reload(t, p.ID)
	if got.Status != store.PipelineFailed || got.CurrentStep != 5 || got.CompletedAt == nil {
		t.Fatalf("unexpected pipeline %+v", got)
	}
	if len(got.ErrorLog) != 1 || !strings.Contains(got.ErrorLog[0], "upload rejected") {
		t.Fatalf("unexpected error log %v", got.ErrorLog)
	}
	if len(got.ContentIDs) != 3 || got.DatasetID == "" || got.FinetuneJobID == "" {
		t.Fatalf("earlier step effects should persist: %+v", got)
	}
}

func TestProviderFailureAfterCancelKeepsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.err = services.Wrap(services.ErrProvider, "providers", "submit", "upload rejected", nil)
	ext := f.upload(t, "proverbs", jsonlBatch(3, 0))

	p, err := f.svc.Create(ctx, f.sess, pipeline.CreateRequest{
		ExternalDatasetID: ext.ID,
		Config:            store.PipelineConfig{FieldMappings: mapping, AutoCreateDataset: true, AutoFinetune: true},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.provider.onSubmit = func() {
		if _, err := f.svc.Cancel(ctx, f.sess, p.ID); err != nil {
			t.Errorf("Cancel during submit: %v", err)
		}
	}
	f.drain(t)

	got := f.reload(t, p.ID)
	if got.Status != store.PipelineCancelled || len(got.ErrorLog) != 0 {
		t.Fatalf("cancelled pipeline was overwritten: %+v", got)
	}
	if f.provider.submitted != 1 {
		t.Fatalf("submitted = %d, want 1", f.provider.submitted)
	}
	for _, event := range f.notes.events {
		if event == notifications.EventPipelineFailed {
			t.Fatalf("cancelled pipeline published %v", f.notes.events)
		}
	}
}

func TestPipelinePublishesOutcome(t *testing.T) {
	f := newFixture(t)
	ok := f.upload(t, "ok", jsonlBatch(2, 0))
	broken := f.upload(t, "broken", `{"text": "ok"}`+"\n"+`[1,2]`+"\n")
	ctx := context.Background()

	done, err := f.svc.Create(ctx, f.sess, pipeline.CreateRequest{ExternalDatasetID: ok.ID, Config: store.PipelineConfig{FieldMappings: mapping}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.drain(t)
	if len(f.notes.events) != 1 || f.notes.events[0] != notifications.EventPipelineCompleted {
		t.Fatalf("events = %v", f.notes.events)
	}
	if f.notes.last["pipelineId"] != done.ID || f.notes.last["contentCount"] != "2" {
		t.Fatalf("unexpected payload %v", f.notes.last)
	}

	if _, err := f.svc.Create(ctx, f.sess, pipeline.CreateRequest{ExternalDatasetID: broken.ID, Config: store.PipelineConfig{Format: "json"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.drain(t)
	if len(f.notes.events) != 2 || f.notes.events[1] != notifications.EventPipelineFailed || f.notes.last["error"] == "" {
		t.Fatalf("events = %v, last = %v", f.notes.events, f.notes.last)
	}
}

func TestPipelineUnparseablePayloadFails(t *testing.T) {
	f := newFixture(t)
	ext := f.upload(t, "broken", `{"text": "ok"}`+"\n"+`[1,2]`+"\n")

	p, err := f.svc.Create(context.Background(), f.sess, pipeline.CreateRequest{
		ExternalDatasetID: ext.ID,
		Config:            store.PipelineConfig{Format: "json"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.drain(t)
	got := f.reload(t, p.ID)
	if got.Status != store.PipelineFailed || got.CurrentStep != 1 || len(got.ErrorLog) != 1 {
		t.Fatalf("unexpected pipeline %+v", got)
	}
	src, _ := f.externals.Load(context.Background(), ext.ID)
	if src.Status != store.ExternalFailed {
		t.Fatalf("source status = %s", src.Status)
	}
}

func TestCancelStopsFurtherSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ext := f.upload(t, "stories", jsonlBatch(4, 0))
	p, err := f.svc.Create(ctx, f.sess, pipeline.CreateRequest{
		ExternalDatasetID: ext.ID,
		Config:            store.PipelineConfig{FieldMappings: mapping, AutoCreateDataset: true},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Run normalizing and validating, then begin ingesting.
	for step := 1; step <= 2; step++ {
		if err := f.svc.Advance(ctx, p.ID, step); err != nil {
			t.Fatalf("Advance(%d): %v", step, err)
		}
	}
	if _, err := f.store.MutatePipeline(ctx, p.ID, func(p *store.Pipeline) error {
		p.Status = store.PipelineIngesting
		p.CurrentStep = 3
		return nil
	}); err != nil {
		t.Fatalf("MutatePipeline: %v", err)
	}

	cancelled, err := f.svc.Cancel(ctx, f.sess, p.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != store.PipelineCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("unexpected cancelled pipeline %+v", cancelled)
	}

	f.drain(t)
	if err := f.svc.Advance(ctx, p.ID, 4); err != nil {
		t.Fatalf("Advance after cancel: %v", err)
	}
	got := f.reload(t, p.ID)
	if got.Status != store.PipelineCancelled || got.CurrentStep != 3 || len(got.ContentIDs) != 0 || got.DatasetID != "" {
		t.Fatalf("pipeline advanced after cancel: %+v", got)
	}

	if _, err := f.svc.Cancel(ctx, f.sess, p.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("second cancel should be rejected, got %v", err)
	}
}

func TestOwnershipAndNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ext := f.upload(t, "stories", jsonlBatch(1, 0))

	if _, err := f.svc.Create(ctx, session.New("ravi"), pipeline.CreateRequest{ExternalDatasetID: ext.ID}); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("foreign external dataset should be rejected, got %v", err)
	}
	if _, err := f.svc.Create(ctx, f.sess, pipeline.CreateRequest{ExternalDatasetID: "missing"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	p, err := f.svc.Create(ctx, f.sess, pipeline.CreateRequest{ExternalDatasetID: ext.ID, Config: store.PipelineConfig{FieldMappings: mapping}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Status(ctx, session.New("ravi"), p.ID); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("status by non-owner should fail, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, session.New("ravi"), p.ID); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("cancel by non-owner should fail, got %v", err)
	}
	err = f.svc.Advance(ctx, "missing", 1)
	if !errors.Is(err, services.ErrNotFound) || !services.IsFatal(err) {
		t.Fatalf("missing pipeline should be fatal not found, got %v", err)
	}

	f.drain(t)
	list, err := f.svc.List(ctx, f.sess, "completed")
	if err != nil || len(list) != 1 || list[0].ID != p.ID {
		t.Fatalf("List = %+v, %v", list, err)
	}
	if others, _ := f.svc.List(ctx, session.New("ravi"), ""); len(others) != 0 {
		t.Fatalf("other users should see nothing, got %d", len(others))
	}
}

func TestNormalizeConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  store.PipelineConfig
		want string
	}{
		{"bad format", store.PipelineConfig{Format: "xml"}, "unsupported format"},
		{"bad content type", store.PipelineConfig{DefaultContentType: "poem"}, "content type"},
		{"bad language", store.PipelineConfig{DefaultLanguage: "english"}, "not supported"},
		{"bad status", store.PipelineConfig{DefaultStatus: "archived"}, "draft or published"},
		{"quality range", store.PipelineConfig{MinQualityThreshold: 11}, "between 0 and 10"},
		{"custom without connection", store.PipelineConfig{AutoFinetune: true, FinetuneConfig: &store.PipelineFinetuneConfig{Provider: "custom"}}, "connection id"},
		{"unknown provider", store.PipelineConfig{AutoFinetune: true, FinetuneConfig: &store.PipelineFinetuneConfig{Provider: "bard"}}, "unknown fine-tune provider"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			err := pipeline.NormalizeConfig(&cfg)
			if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("NormalizeConfig error = %v, want %q", err, tc.want)
			}
		})
	}

	cfg := store.PipelineConfig{Format: "NDJSON", DefaultLanguage: "Tamil", DefaultContentType: "Proverb"}
	if err := pipeline.NormalizeConfig(&cfg); err != nil {
		t.Fatalf("NormalizeConfig: %v", err)
	}
	if cfg.Format != "jsonl" || cfg.DefaultLanguage != "tamil" || cfg.DefaultContentType != "proverb" || cfg.DefaultStatus != "draft" {
		t.Fatalf("unexpected normalized config %+v", cfg)
	}
}

func TestNormalizeFillsLanguage(t *testing.T) {
	ext := &store.ExternalDataset{RawData: "text\n  யாதும்   ஊரே யாவரும் கேளிர்  \nplain latin words here\n", Format: "csv"}
	records, format, err := pipeline.Normalize(ext, store.PipelineConfig{AutoDetectLanguage: true, DefaultLanguage: "hindi"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if format != "csv" || len(records) != 2 {
		t.Fatalf("format=%s records=%d", format, len(records))
	}
	if records[0].String("text") != "யாதும் ஊரே யாவரும் கேளிர்" || records[0].String("language") != "tamil" {
		t.Fatalf("unexpected first record %v", records[0])
	}
	if records[1].String("language") != "hindi" {
		t.Fatalf("expected default language fallback, got %v", records[1])
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	testsupport.WriteFile(t, path, `
field_mappings:
  text: body
  language: lang
remove_duplicates: true
min_quality_threshold: 7.5
default_status: published
auto_create_dataset: true
dataset:
  name: folk tales
auto_finetune: true
finetune:
  provider: custom
  connection_id: conn-1
  parameters:
    learning_rate: 0.00005
    batch_size: 8
    epochs: 3
    lora_rank: 8
    lora_alpha: 16
`)
	cfg, err := pipeline.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.FieldMappings["text"] != "body" || !cfg.RemoveDuplicates || cfg.MinQualityThreshold != 7.5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.DatasetConfig == nil || cfg.DatasetConfig.Name != "folk tales" {
		t.Fatalf("dataset config = %+v", cfg.DatasetConfig)
	}
	ft := cfg.FinetuneConfig
	if ft == nil || ft.Provider != "custom" || ft.ConnectionID != "conn-1" || ft.Parameters == nil || ft.Parameters.Epochs != 3 {
		t.Fatalf("finetune config = %+v", ft)
	}
	if err := pipeline.NormalizeConfig(&cfg); err != nil {
		t.Fatalf("NormalizeConfig: %v", err)
	}

	if _, err := pipeline.LoadConfig(filepath.Join(dir, "missing.yaml")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	testsupport.WriteFile(t, filepath.Join(dir, "bad.yaml"), "field_mappings: [unclosed")
	if _, err := pipeline.LoadConfig(filepath.Join(dir, "bad.yaml")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
