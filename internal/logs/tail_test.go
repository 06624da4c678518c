package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"bhasha/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bhasha.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func appendLog(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if !slices.Equal(result.Lines, []string{"b", "c"}) {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("offset = %d, want 6", result.Offset)
	}
}

func TestTailMatchFiltersLines(t *testing.T) {
	path := writeLog(t, "pipeline[pipeline p1]: step started\npipeline[pipeline p2]: step started\npipeline[pipeline p1]: completed\n")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 10, Match: "p1"})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[1] != "pipeline[pipeline p1]: completed" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil || len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("Tail(missing) = %+v, %v", result, err)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := writeLog(t, "start\n")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	if err != nil || len(result.Lines) != 1 {
		t.Fatalf("initial tail: %#v, %v", result.Lines, err)
	}

	done := make(chan struct{})
	go func(offset int64) {
		defer close(done)
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("follow tail error: %v", err)
		}
		if len(res.Lines) != 1 || res.Lines[0] != "later" {
			t.Errorf("unexpected follow lines: %#v", res.Lines)
		}
	}(result.Offset)

	time.Sleep(200 * time.Millisecond)
	appendLog(t, path, "later")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	path := writeLog(t, "one\ntwo\n")
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var got []string
	first := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- logs.Stream(ctx, path, 1, "", func(lines []string) error {
			mu.Lock()
			defer mu.Unlock()
			if len(got) == 0 {
				close(first)
			}
			got = append(got, lines...)
			if slices.Contains(got, "three") {
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("stream emitted nothing")
	}
	appendLog(t, path, "three")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("stream did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(got, []string{"two", "three"}) {
		t.Fatalf("streamed %#v", got)
	}
}
