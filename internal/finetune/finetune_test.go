package finetune_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bhasha/internal/config"
	"bhasha/internal/dataset"
	"bhasha/internal/finetune"
	"bhasha/internal/hyperparams"
	"bhasha/internal/logging"
	"bhasha/internal/notifications"
	"bhasha/internal/providers"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/testsupport"
)

type fakeProvider struct {
	mu         sync.Mutex
	submitted  []providers.SubmitRequest
	submitErr  error
	update     *providers.JobUpdate
	pollErr    error
	cancelErr  error
	cancelled  []string
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
	pollDelay  time.Duration
	pollCalled atomic.Int32
}

func (f *fakeProvider) Name() string { return providers.NameOpenAI }

func (f *fakeProvider) Submit(_ context.Context, req providers.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "prov-1", nil
}

func (f *fakeProvider) Poll(context.Context, *store.FinetuneJob) (*providers.JobUpdate, error) {
	f.pollCalled.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.pollDelay > 0 {
		time.Sleep(f.pollDelay)
	}
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	u := *f.update
	return &u, nil
}

func (f *fakeProvider) Cancel(_ context.Context, job *store.FinetuneJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, job.ProviderJobID)
	return f.cancelErr
}

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	builder  *dataset.Builder
	provider *fakeProvider
	svc      *finetune.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.MaxConcurrentPolls = 2
	st := testsupport.MustOpenStore(t, cfg)
	builder := dataset.NewBuilder(st, logging.NewNop())
	fp := &fakeProvider{update: &providers.JobUpdate{Status: store.JobRunning}}
	svc := finetune.NewService(cfg, st, builder, providers.NewRegistry(fp), logging.NewNop())
	return &fixture{cfg: cfg, store: st, builder: builder, provider: fp, svc: svc}
}

func (f *fixture) dataset(t *testing.T, n int) *store.Dataset {
	t.Helper()
	lang := "hindi"
	if n > 0 {
		testsupport.SeedPublished(t, f.store, "asha", lang, n)
	} else {
		lang = "odia"
	}
	res, err := f.builder.Create(context.Background(), session.New("asha"), dataset.CreateRequest{Name: "ds", Language: lang})
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	return res.Dataset
}

func TestCreateUsesRecommendation(t *testing.T) {
	f := newFixture(t)
	ds := f.dataset(t, 10)
	job, err := f.svc.Create(context.Background(), session.New("asha"), finetune.CreateRequest{DatasetID: ds.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec, err := f.svc.Recommend(context.Background(), ds.ID)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if job.Parameters != rec.Params {
		t.Fatalf("job params %+v != recommendation %+v", job.Parameters, rec.Params)
	}
	if job.Status != store.JobPending || job.Provider != providers.NameOpenAI || job.Model != f.cfg.Finetune.DefaultBaseModel {
		t.Fatalf("unexpected job %+v", job)
	}
	acts, err := f.store.ListActivities(context.Background(), "asha", 10)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	found := false
	for _, a := range acts {
		if a.Action == store.ActionFinetuneStarted && a.FinetuneJobID == job.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected finetune_started activity")
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ds := f.dataset(t, 3)
	ctx := context.Background()
	sess := session.New("asha")

	if _, err := f.svc.Create(ctx, sess, finetune.CreateRequest{DatasetID: "missing"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.Create(ctx, sess, finetune.CreateRequest{DatasetID: ds.ID, Provider: "custom"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for unregistered provider, got %v", err)
	}
	bad := hyperparams.Params{LearningRate: 0, BatchSize: 8, Epochs: 3, LoraRank: 8, LoraAlpha: 16}
	if _, err := f.svc.Create(ctx, sess, finetune.CreateRequest{DatasetID: ds.ID, Parameters: &bad}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCustomProviderRequiresOwnedConnection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	builder := dataset.NewBuilder(st, logging.NewNop())
	svc := finetune.NewService(cfg, st, builder, providers.NewRegistry(providers.NewCustom(cfg, st)), logging.NewNop())
	testsupport.SeedPublished(t, st, "asha", "tamil", 3)
	res, err := builder.Create(context.Background(), session.New("asha"), dataset.CreateRequest{Name: "ta", Language: "tamil"})
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	conn := &store.Connection{UserID: "ravi", Name: "lab", APIEndpoint: "https://llm.example", AuthType: "none", DataFormat: "jsonl"}
	if err := st.InsertConnection(context.Background(), conn); err != nil {
		t.Fatalf("insert connection: %v", err)
	}
	ctx := context.Background()
	if _, err := svc.Create(ctx, session.New("asha"), finetune.CreateRequest{DatasetID: res.Dataset.ID, Provider: "custom"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Create(ctx, session.New("asha"), finetune.CreateRequest{DatasetID: res.Dataset.ID, Provider: "custom", ConnectionID: conn.ID}); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestSubmitSplitsAndMarksRunning(t *testing.T) {
	f := newFixture(t)
	ds := f.dataset(t, 10)
	ctx := context.Background()
	job, err := f.svc.Create(ctx, session.New("asha"), finetune.CreateRequest{DatasetID: ds.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job, err = f.svc.Submit(ctx, job.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != store.JobRunning || job.ProviderJobID != "prov-1" {
		t.Fatalf("unexpected job %+v", job)
	}
	req := f.provider.submitted[0]
	if len(req.Partitions.Train) != 9 || len(req.Partitions.Validation) != 1 || len(req.Partitions.Test) != 0 {
		t.Fatalf("expected 90/10/0 split, got %v", req.Partitions.Metadata.Splits)
	}
	if _, err := f.svc.Submit(ctx, job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("resubmitting a running job should fail, got %v", err)
	}
}

func TestSubmitRejectsEmptyDataset(t *testing.T) {
	f := newFixture(t)
	ds := f.dataset(t, 0)
	ctx := context.Background()
	job, err := f.svc.Create(ctx, session.New("asha"), finetune.CreateRequest{DatasetID: ds.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	stored, _ := f.store.GetJob(ctx, job.ID)
	if stored.Status != store.JobFailed || stored.ErrorMessage == "" || stored.CompletedAt == nil {
		t.Fatalf("empty dataset should fail the job: %+v", stored)
	}
	if len(f.provider.submitted) != 0 {
		t.Fatal("provider should not be called for an empty dataset")
	}
}

func TestSubmitProviderErrorFailsJob(t *testing.T) {
	f := newFixture(t)
	f.provider.submitErr = services.Wrap(services.ErrProvider, "openai", "submit", "upstream rejected", nil)
	ds := f.dataset(t, 5)
	ctx := context.Background()
	job, _ := f.svc.Create(ctx, session.New("asha"), finetune.CreateRequest{DatasetID: ds.ID})
	if _, err := f.svc.Submit(ctx, job.ID); !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	stored, _ := f.store.GetJob(ctx, job.ID)
	if stored.Status != store.JobFailed || stored.ErrorMessage != "upstream rejected" {
		t.Fatalf("unexpected job %+v", stored)
	}
}

func TestPollAppliesCompletion(t *testing.T) {
	f := newFixture(t)
	ds := f.dataset(t, 5)
	ctx := context.Background()
	job, _ := f.svc.Create(ctx, session.New("asha"), finetune.CreateRequest{DatasetID: ds.ID})
	if _, err := f.svc.Submit(ctx, job.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f.provider.update = &providers.JobUpdate{Status: store.JobRunning, Loss: []float64{1.2}, Steps: 10, Epoch: 1}
	if _, err := f.svc.Poll(ctx, job.ID); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	f.provider.update = &providers.JobUpdate{Status: store.JobCompleted, RawStatus: "succeeded", Loss: []float64{0.8}, Steps: 20, Epoch: 2, ModelID: "ft:hindi"}
	got, err := f.svc.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != store.JobCompleted || got.ModelID != "ft:hindi" || got.CompletedAt == nil {
		t.Fatalf("unexpected job %+v", got)
	}
	if len(got.Metrics.Loss) != 2 || got.Metrics.Steps != 20 || got.Metrics.CurrentEpoch != 2 {
		t.Fatalf("unexpected metrics %+v", got.Metrics)
	}

	calls := f.provider.pollCalled.Load()
	if _, err := f.svc.Poll(ctx, job.ID); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if f.provider.pollCalled.Load() != calls {
		t.Fatal("completed jobs should not be polled")
	}
}

type recordingNotifier struct {
	events []notifications.Event
	last   notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.events = append(r.events, event)
	r.last = payload
	return errors.New("ntfy unreachable")
}

func TestTerminalJobsPublishNotifications(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	builder := dataset.NewBuilder(st, logging.NewNop())
	fp := &fakeProvider{update: &providers.JobUpdate{Status: store.JobCompleted, ModelID: "ft:hindi"}}
	notes := &recordingNotifier{}
	svc := finetune.NewService(cfg, st, builder, providers.NewRegistry(fp), logging.NewNop(), finetune.WithNotifier(notes))
	f := &fixture{cfg: cfg, store: st, builder: builder, provider: fp, svc: svc}
	ds := f.dataset(t, 5)
	ctx := context.Background()

	job, _ := svc.Create(ctx, session.New("asha"), finetune.CreateRequest{DatasetID: ds.ID})
	if _, err := svc.Submit(ctx, job.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(notes.events) != 0 {
		t.Fatalf("running job should not notify, got %v", notes.events)
	}
	if _, err := svc.Poll(ctx, job.ID); err != nil {
		t.Fatalf("Poll should not surface notification errors: %v", err)
	}
	if len(notes.events) != 1 || notes.events[0] != notifications.EventFinetuneCompleted || notes.last["modelId"] != "ft:hindi" {
		t.Fatalf("events = %v, last = %v", notes.events, notes.last)
	}

	fp.submitErr = services.Wrap(services.ErrProvider, "providers", "submit", "quota exceeded", nil)
	failing, _ := svc.Create(ctx, session.New("asha"), finetune.CreateRequest{DatasetID: ds.ID})
	if _, err := svc.Submit(ctx, failing.ID); err == nil {
		t.Fatal("expected submit failure")
	}
	if len(notes.events) != 2 || notes.events[1] != notifications.EventFinetuneFailed || notes.last["jobId"] != failing.ID {
		t.Fatalf("events = %v, last = %v", notes.events, notes.last)
	}
}

func TestMergeLoss(t *testing.T) {
	tests := []struct {
		name               string
		existing, incoming []float64
		want               []float64
	}{
		{name: "empty incoming", existing: []float64{1}, want: []float64{1}},
		{name: "single appended", existing: []float64{1}, incoming: []float64{0.5}, want: []float64{1, 0.5}},
		{name: "repeat ignored", existing: []float64{1, 0.5}, incoming: []float64{0.5}, want: []float64{1, 0.5}},
		{name: "history extended", existing: []float64{1, 0.5}, incoming: []float64{1, 0.5, 0.4}, want: []float64{1, 0.5, 0.4}},
		{name: "new window appended", existing: []float64{1, 0.5}, incoming: []float64{0.4, 0.3}, want: []float64{1, 0.5, 0.4, 0.3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := finetune.MergeLoss(tc.existing, tc.incoming)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestApplyUpdateKeepsMonotonicMetrics(t *testing.T) {
	job := &store.FinetuneJob{Status: store.JobRunning, ModelID: "m1", Metrics: store.JobMetrics{Steps: 50, CurrentEpoch: 3}}
	finetune.ApplyUpdate(job, &providers.JobUpdate{Status: store.JobFailed, RawStatus: "error", Steps: 10}, time.Now())
	if job.Metrics.Steps != 50 || job.Metrics.CurrentEpoch != 3 || job.ModelID != "m1" {
		t.Fatalf("metrics regressed: %+v", job)
	}
	if job.Status != store.JobFailed || job.ErrorMessage != "provider reported error" || job.CompletedAt == nil {
		t.Fatalf("unexpected failure fields %+v", job)
	}
}

func TestPollRunningBoundsConcurrency(t *testing.T) {
	f := newFixture(t)
	f.provider.pollDelay = 20 * time.Millisecond
	ds := f.dataset(t, 5)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		job, _ := f.svc.Create(ctx, session.New("asha"), finetune.CreateRequest{DatasetID: ds.ID})
		if _, err := f.svc.Submit(ctx, job.ID); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	n, err := f.svc.PollRunning(ctx)
	if err != nil || n != 5 {
		t.Fatalf("PollRunning = %d, %v", n, err)
	}
	if peak := f.provider.maxFlight.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent polls, saw %d", peak)
	}

	f.provider.pollErr = errors.New("gateway timeout")
	if n, err := f.svc.PollRunning(ctx); err != nil || n != 5 {
		t.Fatalf("poll failures should be logged, not returned: %d, %v", n, err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.provider.cancelErr = errors.New("not supported")
	ds := f.dataset(t, 5)
	ctx := context.Background()
	sess := session.New("asha")
	job, _ := f.svc.Create(ctx, sess, finetune.CreateRequest{DatasetID: ds.ID})
	if _, err := f.svc.Submit(ctx, job.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := f.svc.Cancel(ctx, session.New("ravi"), job.ID); !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	got, err := f.svc.Cancel(ctx, sess, job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != store.JobCancelled || got.CompletedAt == nil {
		t.Fatalf("unexpected job %+v", got)
	}
	if len(f.provider.cancelled) != 1 || f.provider.cancelled[0] != "prov-1" {
		t.Fatalf("provider cancel not attempted: %v", f.provider.cancelled)
	}
	if _, err := f.svc.Cancel(ctx, sess, job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("cancelling twice should fail, got %v", err)
	}

	pending, _ := f.svc.Create(ctx, sess, finetune.CreateRequest{DatasetID: ds.ID})
	if _, err := f.svc.Cancel(ctx, sess, pending.ID); err != nil {
		t.Fatalf("Cancel pending: %v", err)
	}
	if len(f.provider.cancelled) != 1 {
		t.Fatal("pending jobs have nothing to cancel at the provider")
	}
}
