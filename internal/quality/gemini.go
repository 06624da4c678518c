package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bhasha/internal/config"
	"bhasha/internal/language"
	"bhasha/internal/services"
	"bhasha/internal/services/llm"
)

// Gemini scores content through the generateContent API.
type Gemini struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// GeminiOption customizes the analyzer.
type GeminiOption func(*Gemini)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) GeminiOption {
	return func(g *Gemini) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// NewGemini builds an analyzer from the quality configuration.
func NewGemini(cfg config.Quality, opts ...GeminiOption) *Gemini {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	g := &Gemini{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type generateRequest struct {
	Contents []struct {
		Parts []part `json:"parts"`
	} `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type scoredAnalysis struct {
	Analysis
	OverallScore float64 `json:"overallScore"`
}

// Analyze implements Analyzer.
func (g *Gemini) Analyze(ctx context.Context, req Request) (Result, error) {
	if g.apiKey == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "quality", "analyze", "gemini api key not configured", nil)
	}
	body := generateRequest{GenerationConfig: generationConfig{Temperature: 0.2, MaxOutputTokens: 500}}
	body.Contents = append(body.Contents, struct {
		Parts []part `json:"parts"`
	}{Parts: []part{{Text: buildPrompt(req)}}})
	encoded, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("encode gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, services.Wrap(services.ErrProvider, "quality", "analyze", "gemini request failed", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, services.Wrap(services.ErrProvider, "quality", "analyze", "read gemini response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Result{}, services.Wrap(services.ErrProvider, "quality", "analyze",
			fmt.Sprintf("gemini http %d: %s", resp.StatusCode, llm.SummarizeSnippet(string(raw))), nil)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, services.Wrap(services.ErrProvider, "quality", "analyze", "decode gemini response", err)
	}
	text := ""
	if len(decoded.Candidates) > 0 && len(decoded.Candidates[0].Content.Parts) > 0 {
		text = decoded.Candidates[0].Content.Parts[0].Text
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, services.Wrap(services.ErrProvider, "quality", "analyze", "no response from gemini", nil)
	}
	var scored scoredAnalysis
	if err := llm.DecodeLLMJSON(text, &scored); err != nil {
		return Result{}, services.Wrap(services.ErrProvider, "quality", "analyze", "could not parse gemini analysis", err)
	}
	analysis := scored.Analysis
	return Result{Score: ScaleScore(scored.OverallScore), Analysis: &analysis}, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following %s %s for quality and cultural authenticity.\n\n",
		language.DisplayName(req.Language), req.ContentType)
	fmt.Fprintf(&b, "Text: %q\n", req.Text)
	if ctx := strings.TrimSpace(req.CulturalContext); ctx != "" {
		fmt.Fprintf(&b, "Cultural Context: %s\n", ctx)
	}
	b.WriteString(`
Evaluate on these criteria:
1. Linguistic accuracy and grammar (0-1)
2. Cultural authenticity and appropriateness (0-1)
3. Richness of content and detail (0-1)
4. Preservation value for AI training (0-1)

Respond in JSON format:
{
  "linguisticAccuracy": <score>,
  "culturalAuthenticity": <score>,
  "contentRichness": <score>,
  "preservationValue": <score>,
  "overallScore": <average>,
  "reasoning": "<brief explanation>",
  "suggestions": "<improvement suggestions>"
}`)
	return b.String()
}
