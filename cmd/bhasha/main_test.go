package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bhasha/internal/store"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out := mustRunCLI(t, env, "config", "validate")
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-abcdefghijklmnop")

	out := mustRunCLI(t, env, "config", "show")
	requireContains(t, out, "sk-a****")
	if strings.Contains(out, "sk-abcdefghijklmnop") {
		t.Fatalf("secret leaked in config show: %s", out)
	}
}

func TestContentAddPublishAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out := mustRunCLI(t, env, "--json", "content", "add", "मेरा गाँव नदी के किनारे बसा है", "--language", "hindi", "--type", "narrative")
	var item store.ContentItem
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		t.Fatalf("decode content: %v\n%s", err, out)
	}
	if item.ID == "" || item.Status != store.ContentDraft || item.UserID != "meera" {
		t.Fatalf("unexpected item %+v", item)
	}

	out = mustRunCLI(t, env, "content", "publish", item.ID)
	requireContains(t, out, "is now published")

	out = mustRunCLI(t, env, "content", "list", "--status", "published")
	requireContains(t, out, item.ID)

	out = mustRunCLI(t, env, "content", "stats")
	requireContains(t, out, "hindi")
}

func TestContentAddHelpListsAcceptedTypes(t *testing.T) {
	env := setupCLITestEnv(t)

	out := mustRunCLI(t, env, "content", "add", "--help")
	requireContains(t, out, "Content type (text, proverb, narrative)")

	_, _, err := runCLI(t, []string{"content", "add", "मेरा गाँव नदी के किनारे बसा है", "--language", "hindi", "--type", "story"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "text, proverb, narrative") {
		t.Fatalf("expected content type rejection, got %v", err)
	}
}

func TestContentAddRejectsShortText(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"content", "add", "छोटा", "--language", "hindi", "--type", "text"}, env.configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	requireContains(t, describeError(err), "validation")
}

func TestCommandsRequireUser(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"--user", "", "pipeline", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("explicit empty --user keeps config user: %v", err)
	}

	cfgNoUser := filepath.Join(env.baseDir, "nouser.toml")
	env.cfg.Session.UserID = ""
	writeTestConfig(t, cfgNoUser, env.cfg)
	_, _, err = runCLI(t, []string{"pipeline", "list"}, cfgNoUser)
	if err == nil {
		t.Fatal("expected missing user to fail")
	}
	requireContains(t, describeError(err), "--user")
}

func TestExternalImportPipelineRun(t *testing.T) {
	env := setupCLITestEnv(t)

	csvPath := filepath.Join(env.baseDir, "songs.csv")
	raw := "text,language\n" +
		"आमार सोनार बांग्ला आमि तोमाय भालोबासि,hindi\n" +
		"नदी के किनारे एक छोटा सा गाँव था,hindi\n" +
		"नदी के किनारे एक छोटा सा गाँव था,hindi\n" +
		",hindi\n"
	if err := os.WriteFile(csvPath, []byte(raw), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out := mustRunCLI(t, env, "--json", "external", "add", "village", "--file", csvPath)
	var ext store.ExternalDataset
	if err := json.Unmarshal([]byte(out), &ext); err != nil {
		t.Fatalf("decode external: %v\n%s", err, out)
	}
	if ext.Source != store.SourceUpload || ext.Format != "csv" {
		t.Fatalf("unexpected external dataset %+v", ext)
	}

	out = mustRunCLI(t, env, "--json", "pipeline", "create", ext.ID,
		"--type", "text", "--status", "published", "--dedupe", "--dataset", "village set", "--run")
	var p store.Pipeline
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("decode pipeline: %v\n%s", err, out)
	}
	if p.Status != store.PipelineCompleted || p.TotalSteps != 4 {
		t.Fatalf("unexpected pipeline %+v", p)
	}
	if len(p.ContentIDs) != 2 || p.DatasetID == "" {
		t.Fatalf("expected 2 ingested items and a dataset, got %+v", p)
	}
	if len(p.ErrorLog) != 1 {
		t.Fatalf("expected one rejected row, got %v", p.ErrorLog)
	}

	out = mustRunCLI(t, env, "pipeline", "status", p.ID)
	requireContains(t, out, "completed")

	out = mustRunCLI(t, env, "dataset", "show", p.DatasetID)
	requireContains(t, out, "hindi")

	out = mustRunCLI(t, env, "queue", "status")
	requireContains(t, out, "done")
}

func TestPipelineCreateRejectsBadMapping(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"pipeline", "create", "ext-1", "--map", "text"}, env.configPath); err == nil {
		t.Fatal("expected malformed mapping to fail")
	}
}

func TestStatusReportsIdleDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out := mustRunCLI(t, env, "status")
	requireContains(t, out, "Not running")
	requireContains(t, out, "meera")
	requireContains(t, out, "Missing API key")

	out = mustRunCLI(t, env, "--json", "status", "--check")
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if report.DaemonRunning || len(report.Checks) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, c := range report.Checks {
		if !c.Passed {
			t.Fatalf("directory check failed: %+v", c)
		}
	}
}

func TestQueueDrainOnEmptyQueue(t *testing.T) {
	env := setupCLITestEnv(t)

	out := mustRunCLI(t, env, "queue", "drain")
	requireContains(t, out, "Handled 0 tasks")
	out = mustRunCLI(t, env, "queue", "list")
	requireContains(t, out, "No tasks")
}

func TestParseSplitAndMappings(t *testing.T) {
	got, err := parseMappings([]string{"text=body", " language = lang "})
	if err != nil {
		t.Fatalf("parseMappings: %v", err)
	}
	if got["text"] != "body" || got["language"] != "lang" {
		t.Fatalf("unexpected mappings %v", got)
	}
	if _, err := parseMappings([]string{"=body"}); err == nil {
		t.Fatal("expected empty target to fail")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"short":             "****",
		"sk-1234567890abcd": "sk-1****",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Fatalf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
