package queue_test

import (
	"context"
	"testing"
	"time"

	"bhasha/internal/queue"
	"bhasha/internal/testsupport"
)

func TestRunAfterAndClaimOrdering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	later, err := q.RunAfter(ctx, time.Hour, "pipeline.step", "p1", map[string]int{"step": 2})
	if err != nil {
		t.Fatalf("RunAfter: %v", err)
	}
	first, err := q.Enqueue(ctx, "pipeline.step", "p2", map[string]int{"step": 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	claimed, err := q.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected due task %d, got %+v", first.ID, claimed)
	}
	if claimed.Status != queue.StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claimed = %+v", claimed)
	}
	var payload struct{ Step int }
	if err := claimed.Decode(&payload); err != nil || payload.Step != 1 {
		t.Fatalf("Decode: %+v %v", payload, err)
	}

	none, err := q.ClaimNext(ctx)
	if err != nil || none != nil {
		t.Fatalf("future task must not be claimed yet: %+v %v", none, err)
	}

	if err := q.Complete(ctx, claimed.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Done != 1 || stats.Pending != 1 || stats.Total() != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	outstanding, err := q.HasOutstanding(ctx, "pipeline.step", "p1")
	if err != nil || !outstanding {
		t.Fatalf("HasOutstanding(p1) = %v %v", outstanding, err)
	}
	_ = later
}

func TestRetryAndFail(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	task, _ := q.Enqueue(ctx, "finetune.poll", "", nil)
	claimed, _ := q.ClaimNext(ctx)
	if claimed == nil {
		t.Fatal("expected claim")
	}
	if err := q.Retry(ctx, task.ID, "transient", 0); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	again, _ := q.ClaimNext(ctx)
	if again == nil || again.Attempts != 2 || again.LastError != "transient" {
		t.Fatalf("retry claim = %+v", again)
	}
	if err := q.Fail(ctx, task.ID, "fatal"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	failed, _ := q.List(ctx, queue.StatusFailed)
	if len(failed) != 1 || failed[0].LastError != "fatal" {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestReclaimStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "content.analyze", "c1", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if claimed, _ := q.ClaimNext(ctx); claimed == nil {
		t.Fatal("expected claim")
	}

	n, err := q.ReclaimStale(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("fresh claims must not be reclaimed: %d %v", n, err)
	}
	n, err = q.ReclaimStale(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("stale claim should be reclaimed: %d %v", n, err)
	}
	again, _ := q.ClaimNext(ctx)
	if again == nil || again.Attempts != 2 {
		t.Fatalf("redelivery = %+v", again)
	}
}
