package quality

import (
	"context"
	"math"

	"bhasha/internal/config"
)

// NeutralScore is recorded when analysis is unavailable.
const NeutralScore = 5.0

// Request describes the text to score.
type Request struct {
	Text            string
	Language        string
	ContentType     string
	CulturalContext string
}

// Analysis is the per-criterion breakdown returned by the model. Criterion
// scores stay on the model's 0-1 scale.
type Analysis struct {
	LinguisticAccuracy   float64 `json:"linguisticAccuracy"`
	CulturalAuthenticity float64 `json:"culturalAuthenticity"`
	ContentRichness      float64 `json:"contentRichness"`
	PreservationValue    float64 `json:"preservationValue"`
	Reasoning            string  `json:"reasoning,omitempty"`
	Suggestions          string  `json:"suggestions,omitempty"`
}

// Result is a scored analysis. Score is on the 0-10 scale.
type Result struct {
	Score    float64   `json:"qualityScore"`
	Analysis *Analysis `json:"analysis,omitempty"`
}

// Analyzer scores content.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}

// Neutral returns NeutralScore for every request.
type Neutral struct{}

// Analyze implements Analyzer.
func (Neutral) Analyze(context.Context, Request) (Result, error) {
	return Result{Score: NeutralScore}, nil
}

// NewFromConfig returns a Gemini analyzer when quality analysis is enabled and
// has an API key, otherwise Neutral.
func NewFromConfig(cfg *config.Config) Analyzer {
	if cfg == nil || !cfg.Quality.Enabled || cfg.Quality.APIKey == "" {
		return Neutral{}
	}
	return NewGemini(cfg.Quality)
}

// ScaleScore maps a model score onto 0-10. Values up to 1 are treated as the
// 0-1 scale and multiplied by 10. The result is clamped and rounded to two
// decimals.
func ScaleScore(raw float64) float64 {
	if math.IsNaN(raw) || raw < 0 {
		return 0
	}
	if raw <= 1 {
		raw *= 10
	}
	if raw > 10 {
		raw = 10
	}
	return math.Round(raw*100) / 100
}
