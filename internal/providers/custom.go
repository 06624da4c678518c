package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bhasha/internal/config"
	"bhasha/internal/connections"
	"bhasha/internal/dataset"
	"bhasha/internal/services"
	"bhasha/internal/store"
)

// fallbackJobID is recorded when a custom endpoint accepts a job without
// returning any recognisable identifier.
const fallbackJobID = "custom-job"

// Custom submits jobs to user-registered endpoints.
type Custom struct {
	store      *store.Store
	httpClient *http.Client
	retry      RetryPolicy
}

// CustomOption customises the adapter.
type CustomOption func(*Custom)

// WithCustomHTTPClient overrides the HTTP client.
func WithCustomHTTPClient(client *http.Client) CustomOption {
	return func(c *Custom) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCustomSleeper overrides how submission backoff sleeps.
func WithCustomSleeper(sleep func(time.Duration)) CustomOption {
	return func(c *Custom) { c.retry.Sleep = sleep }
}

// NewCustom builds the adapter. Connections are loaded from st per job.
func NewCustom(cfg *config.Config, st *store.Store, opts ...CustomOption) *Custom {
	timeout := cfg.ProviderTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Custom{
		store:      st,
		httpClient: &http.Client{Timeout: timeout},
		retry:      RetryPolicy{Attempts: cfg.Finetune.SubmitAttempts, Backoff: cfg.SubmitBackoff()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Provider.
func (c *Custom) Name() string { return NameCustom }

func (c *Custom) connection(ctx context.Context, job *store.FinetuneJob, requireActive bool) (*store.Connection, error) {
	if job.ConnectionID == "" {
		return nil, services.Wrap(services.ErrValidation, "custom", "connection", "custom provider requires a connection", nil)
	}
	conn, err := connections.Load(ctx, c.store, job.ConnectionID)
	if err != nil {
		return nil, err
	}
	if requireActive && !conn.Active {
		return nil, services.Wrap(services.ErrValidation, "custom", "connection", "LLM connection is not active", nil)
	}
	return conn, nil
}

type customParameters struct {
	LearningRate float64 `json:"learning_rate"`
	BatchSize    int     `json:"batch_size"`
	Epochs       int     `json:"epochs"`
	LoraRank     int     `json:"lora_rank"`
	LoraAlpha    int     `json:"lora_alpha"`
}

type datasetInfo struct {
	Language     string  `json:"language"`
	Size         int     `json:"size"`
	QualityScore float64 `json:"quality_score"`
}

type customSubmission struct {
	TrainingData    json.RawMessage  `json:"training_data"`
	ValidationData  json.RawMessage  `json:"validation_data"`
	Parameters      customParameters `json:"parameters"`
	ModelIdentifier string           `json:"model_identifier"`
	DatasetInfo     datasetInfo      `json:"dataset_info"`
}

// encodeSplit renders one partition in the connection's data format. JSON
// becomes an array; JSONL and CSV travel as a string.
func encodeSplit(items []store.ContentItem, format string) (json.RawMessage, error) {
	records := dataset.ExportRecords("", items)
	encoded, err := dataset.EncodeRecords(records, dataset.ExportFormat(format))
	if err != nil {
		return nil, err
	}
	if dataset.ExportFormat(format) == dataset.ExportJSON {
		return encoded, nil
	}
	return json.Marshal(string(encoded))
}

// Submit posts the splits and parameters to the connection endpoint.
func (c *Custom) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Job == nil || req.Dataset == nil || req.Partitions == nil {
		return "", services.Wrap(services.ErrValidation, "custom", "submit", "job, dataset and partitions are required", nil)
	}
	conn, err := c.connection(ctx, req.Job, true)
	if err != nil {
		return "", err
	}
	train, err := encodeSplit(req.Partitions.Train, conn.DataFormat)
	if err != nil {
		return "", err
	}
	validation, err := encodeSplit(req.Partitions.Validation, conn.DataFormat)
	if err != nil {
		return "", err
	}
	model := conn.ModelIdentifier
	if model == "" {
		model = req.Dataset.Language
	}
	p := req.Job.Parameters
	body, err := json.Marshal(customSubmission{
		TrainingData:   train,
		ValidationData: validation,
		Parameters: customParameters{
			LearningRate: p.LearningRate,
			BatchSize:    p.BatchSize,
			Epochs:       p.Epochs,
			LoraRank:     p.LoraRank,
			LoraAlpha:    p.LoraAlpha,
		},
		ModelIdentifier: model,
		DatasetInfo: datasetInfo{
			Language:     req.Dataset.Language,
			Size:         req.Dataset.Size,
			QualityScore: req.Dataset.QualityScore,
		},
	})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "custom", "submit", "encode submission", err)
	}

	var result fields
	err = withRetry(ctx, c.retry, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.APIEndpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		connections.ApplyAuth(httpReq, conn)
		raw, err := do(c.httpClient, httpReq)
		if err != nil {
			return err
		}
		result = fields{}
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		return json.Unmarshal(raw, &result)
	})
	if err != nil {
		return "", providerError("custom", "submit", "custom LLM API error", err)
	}
	id := result.stringOf("job_id", "id", "task_id", "request_id")
	if id == "" {
		id = fallbackJobID
	}
	return id, nil
}

// StatusURL is the status endpoint when set, otherwise the API endpoint,
// with the provider job id appended.
func StatusURL(conn *store.Connection, providerJobID string) string {
	base := conn.StatusEndpoint
	if base == "" {
		base = conn.APIEndpoint
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(providerJobID)
}

// Poll fetches the job once and reads fields under any of their known names.
func (c *Custom) Poll(ctx context.Context, job *store.FinetuneJob) (*JobUpdate, error) {
	conn, err := c.connection(ctx, job, false)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, StatusURL(conn, job.ProviderJobID), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "custom", "poll", "build request", err)
	}
	connections.ApplyAuth(req, conn)
	raw, err := do(c.httpClient, req)
	if err != nil {
		return nil, providerError("custom", "poll", "fetch job status", err)
	}
	var result fields
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, providerError("custom", "poll", "decode job status", err)
	}

	rawStatus := result.stringOf("status", "state", "job_status")
	if rawStatus == "" {
		rawStatus = "unknown"
	}
	update := &JobUpdate{
		Status:    MapStatus(rawStatus),
		RawStatus: rawStatus,
		Loss:      result.floatsOf("metrics.loss", "loss"),
		Steps:     result.intOf("metrics.steps", "steps", "iterations"),
		Epoch:     result.intOf("metrics.epoch", "epoch", "current_epoch"),
		ModelID:   result.stringOf("model_id", "model", "fine_tuned_model"),
		Error:     result.stringOf("error.message", "error", "message"),
		Results:   json.RawMessage(raw),
	}
	if update.Status != store.JobFailed {
		update.Error = ""
	}
	return update, nil
}

// Cancel posts to {status url}/cancel. Endpoints without cancel support
// return an error that callers treat as best effort.
func (c *Custom) Cancel(ctx context.Context, job *store.FinetuneJob) error {
	conn, err := c.connection(ctx, job, false)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, StatusURL(conn, job.ProviderJobID)+"/cancel", nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "custom", "cancel", "build request", err)
	}
	connections.ApplyAuth(req, conn)
	if _, err := do(c.httpClient, req); err != nil {
		return providerError("custom", "cancel", fmt.Sprintf("cancel job %s", job.ProviderJobID), err)
	}
	return nil
}
