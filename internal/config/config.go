package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Session identifies the acting user for CLI invocations.
type Session struct {
	UserID string `toml:"user_id"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Workflow contains configuration for the background task worker.
type Workflow struct {
	TaskPollInterval    int `toml:"task_poll_interval"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	JobPollInterval     int `toml:"job_poll_interval"`
	EvaluationInterval  int `toml:"evaluation_interval"`
	MaxConcurrentPolls  int `toml:"max_concurrent_polls"`
	TaskStaleTimeout    int `toml:"task_stale_timeout"`
	TaskMaxAttempts     int `toml:"task_max_attempts"`
	PipelineStepDelayMS int `toml:"pipeline_step_delay_ms"`
}

// Curation contains thresholds used when accepting and importing content.
type Curation struct {
	DuplicateThreshold float64 `toml:"duplicate_threshold"`
	MaxImportErrors    int     `toml:"max_import_errors"`
	ImportSourceTag    string  `toml:"import_source_tag"`
}

// Finetune contains provider submission and dataset split settings.
type Finetune struct {
	SubmitAttempts        int     `toml:"submit_attempts"`
	SubmitBackoffSeconds  int     `toml:"submit_backoff_seconds"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	TrainSplit            float64 `toml:"train_split"`
	ValidationSplit       float64 `toml:"validation_split"`
	TestSplit             float64 `toml:"test_split"`
	CostPer1KTokens       float64 `toml:"cost_per_1k_tokens"`
	DefaultBaseModel      string  `toml:"default_base_model"`
}

// OpenAI contains credentials for the OpenAI-style fine-tuning and evaluation API.
type OpenAI struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Quality contains configuration for AI content scoring.
type Quality struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications configures ntfy alerts for finished pipelines and jobs.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for Bhasha.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Session: acting user for CLI commands
//   - Logging: log format, level, and retention
//   - Workflow: task worker polling intervals and limits
//   - Curation: duplicate detection and import settings
//   - Finetune: provider submission retry policy and split ratios
//   - OpenAI: fixed-schema provider credentials
//   - Quality: content scoring provider
//   - Notifications: ntfy alerts
type Config struct {
	Paths    Paths    `toml:"paths"`
	Session  Session  `toml:"session"`
	Logging  Logging  `toml:"logging"`
	Workflow Workflow `toml:"workflow"`
	Curation Curation `toml:"curation"`
	Finetune Finetune `toml:"finetune"`
	OpenAI   OpenAI   `toml:"openai"`
	Quality  Quality  `toml:"quality"`

	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bhasha/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("bhasha.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the document store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "bhasha.db")
}

// QueuePath returns the location of the durable task queue.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Paths.DataDir, "tasks.db")
}

// LockPath returns the worker daemon lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "bhashad.lock")
}

// SubmitBackoff returns the fixed delay between provider submission attempts.
func (c *Config) SubmitBackoff() time.Duration {
	return time.Duration(c.Finetune.SubmitBackoffSeconds) * time.Second
}

// ProviderTimeout returns the HTTP timeout applied to fine-tuning providers.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Finetune.RequestTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
