package workflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bhasha/internal/logging"
	"bhasha/internal/queue"
	"bhasha/internal/services"
	"bhasha/internal/testsupport"
	"bhasha/internal/workflow"
)

func TestDrainCompletesTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	var seen []string
	mgr := workflow.NewManager(cfg, q, logging.NewNop())
	mgr.Register("echo", workflow.HandlerFunc(func(_ context.Context, task *queue.Task) error {
		var payload struct{ Word string }
		if err := task.Decode(&payload); err != nil {
			return err
		}
		seen = append(seen, payload.Word)
		return nil
	}))

	for _, word := range []string{"namaste", "vanakkam"} {
		if _, err := q.Enqueue(ctx, "echo", "", map[string]string{"word": word}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	handled, err := mgr.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if handled != 2 || len(seen) != 2 || seen[0] != "namaste" || seen[1] != "vanakkam" {
		t.Fatalf("handled=%d seen=%v", handled, seen)
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Done != 2 || stats.Pending != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	summary := mgr.Status(ctx)
	if summary.Processed != 2 || summary.Failed != 0 || summary.LastTask == nil {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestFailureRetriesTransientErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.TaskMaxAttempts = 2
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	mgr := workflow.NewManager(cfg, q, logging.NewNop())
	mgr.Register("flaky", workflow.HandlerFunc(func(context.Context, *queue.Task) error {
		return services.Wrap(services.ErrProvider, "provider", "submit", "upstream unavailable", errors.New("503"))
	}))

	task, err := q.Enqueue(ctx, "flaky", "k", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	got, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != queue.StatusPending || got.LastError != "upstream unavailable" {
		t.Fatalf("after first failure: %+v", got)
	}
	if !got.RunAt.After(time.Now()) {
		t.Fatalf("expected retry to be delayed, run_at=%v", got.RunAt)
	}
}

func TestFailureStopsAtMaxAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.TaskMaxAttempts = 1
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	mgr := workflow.NewManager(cfg, q, logging.NewNop())
	mgr.Register("flaky", workflow.HandlerFunc(func(context.Context, *queue.Task) error {
		return errors.New("boom")
	}))
	task, err := q.Enqueue(ctx, "flaky", "", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	got, _ := q.Get(ctx, task.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failed after exhausting attempts, got %+v", got)
	}
	if summary := mgr.Status(ctx); summary.Failed != 1 || summary.LastError == "" {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestFatalErrorsAreNotRetried(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	mgr := workflow.NewManager(cfg, q, logging.NewNop())
	mgr.Register("step", workflow.HandlerFunc(func(context.Context, *queue.Task) error {
		return services.Wrap(services.ErrNotFound, "pipeline", "load", "pipeline missing", nil)
	}))
	task, _ := q.Enqueue(ctx, "step", "", nil)
	if _, err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	got, _ := q.Get(ctx, task.ID)
	if got.Status != queue.StatusFailed || got.Attempts != 1 {
		t.Fatalf("expected single fatal attempt, got %+v", got)
	}
}

func TestUnknownKindFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	mgr := workflow.NewManager(cfg, q, logging.NewNop())
	mgr.Register("known", workflow.HandlerFunc(func(context.Context, *queue.Task) error { return nil }))
	task, _ := q.Enqueue(ctx, "mystery", "", nil)
	if _, err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	got, _ := q.Get(ctx, task.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %+v", got)
	}
}

func TestTriggerSkipsOutstanding(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()
	mgr := workflow.NewManager(cfg, q, logging.NewNop())

	first, err := mgr.Trigger(ctx, "poll")
	if err != nil || !first {
		t.Fatalf("first trigger = %v, %v", first, err)
	}
	second, err := mgr.Trigger(ctx, "poll")
	if err != nil || second {
		t.Fatalf("second trigger should be skipped, got %v, %v", second, err)
	}
}

func TestStartRunsPeriodicTriggers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.TaskPollInterval = 0
	q := testsupport.MustOpenQueue(t, cfg)

	var calls atomic.Int32
	mgr := workflow.NewManager(cfg, q, logging.NewNop())
	mgr.Register("tick", workflow.HandlerFunc(func(context.Context, *queue.Task) error {
		calls.Add(1)
		return nil
	}))
	if err := mgr.Every("tick", 20*time.Millisecond); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected periodic handler to run at least twice, got %d", calls.Load())
	}
	if !mgr.Status(context.Background()).Running {
		t.Fatal("expected manager to report running")
	}
}

func TestStartRequiresHandlers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	mgr := workflow.NewManager(cfg, q, logging.NewNop())
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error without handlers")
	}
}
