package testsupport

import (
	"path/filepath"
	"testing"

	"bhasha/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Session.UserID = "test-user"
	cfgVal.Quality.Enabled = false
	cfgVal.Quality.APIKey = ""
	cfgVal.OpenAI.APIKey = ""
	cfgVal.Finetune.SubmitBackoffSeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithUser sets the acting user on the test config.
func WithUser(userID string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Session.UserID = userID
	}
}

// WithOpenAI points the fixed-schema provider at baseURL.
func WithOpenAI(baseURL, apiKey string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.OpenAI.BaseURL = baseURL
		b.cfg.OpenAI.APIKey = apiKey
	}
}

// WithQuality enables AI quality analysis against baseURL.
func WithQuality(baseURL, apiKey string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Quality.Enabled = true
		b.cfg.Quality.BaseURL = baseURL
		b.cfg.Quality.APIKey = apiKey
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
