package preflight

import (
	"strings"

	"bhasha/internal/config"
)

// OpenAIStatus summarizes the fine-tuning API configuration without any
// network access.
func OpenAIStatus(cfg *config.Config) Result {
	const name = "OpenAI"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return Result{Name: name, Detail: "Missing API key (fine-tuning and evaluation unavailable)"}
	}
	return Result{Name: name, Passed: true, Detail: "Configured"}
}

// QualityStatus summarizes the quality analysis configuration without any
// network access. Disabled analysis passes; content then gets a neutral score.
func QualityStatus(cfg *config.Config) Result {
	const name = "Quality analysis"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Quality.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled (neutral scores)"}
	}
	if strings.TrimSpace(cfg.Quality.APIKey) == "" {
		return Result{Name: name, Detail: "Missing API key"}
	}
	return Result{Name: name, Passed: true, Detail: "Configured"}
}
