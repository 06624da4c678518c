package preflight

import (
	"context"

	"bhasha/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Remote checks only run when the corresponding API is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Data and log directories (always checked)
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	// Fine-tuning and evaluation API
	if cfg.OpenAI.APIKey != "" {
		results = append(results, CheckLLM(ctx, "OpenAI API", cfg))
	}

	// Content quality analysis
	if cfg.Quality.Enabled && cfg.Quality.APIKey != "" {
		results = append(results, CheckQuality(ctx, cfg.Quality))
	}

	return results
}
