package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bhasha/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func testConfig(t *testing.T, baseURL, key string) *config.Config {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.OpenAI.BaseURL = baseURL
	cfg.OpenAI.APIKey = key
	cfg.Quality.Enabled = false
	return &cfg
}

func TestCheckLLM_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	result := CheckLLM(context.Background(), "OpenAI API", testConfig(t, srv.URL, "good-key"))
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLLM_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	result := CheckLLM(context.Background(), "OpenAI API", testConfig(t, srv.URL, "bad-key"))
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
	if !strings.Contains(result.Detail, "401") {
		t.Fatalf("expected status in detail, got: %s", result.Detail)
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "OpenAI API", testConfig(t, "", ""))
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunAllSkipsUnconfiguredAPIs(t *testing.T) {
	cfg := testConfig(t, "", "")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	results := RunAll(context.Background(), cfg)
	if len(results) != 2 {
		t.Fatalf("expected directory checks only, got %+v", results)
	}
	for _, r := range results {
		if !r.Passed {
			t.Fatalf("expected %s to pass: %s", r.Name, r.Detail)
		}
	}
}

func TestStatusFromConfig(t *testing.T) {
	cfg := testConfig(t, "", "")
	if OpenAIStatus(cfg).Passed {
		t.Fatal("expected missing key to fail")
	}
	if !QualityStatus(cfg).Passed {
		t.Fatal("disabled quality analysis should pass")
	}
	cfg.Quality.Enabled = true
	if QualityStatus(cfg).Passed {
		t.Fatal("enabled quality analysis without a key should fail")
	}
	cfg.OpenAI.APIKey = "sk"
	if !OpenAIStatus(cfg).Passed {
		t.Fatal("expected configured key to pass")
	}
}
