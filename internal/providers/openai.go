package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bhasha/internal/config"
	"bhasha/internal/services"
	"bhasha/internal/store"
)

// baseLearningRate is the learning rate a multiplier of 1 corresponds to.
const baseLearningRate = 0.00003

// OpenAI submits jobs to an OpenAI-compatible fine-tuning API.
type OpenAI struct {
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	retry        RetryPolicy
}

// OpenAIOption customises the adapter.
type OpenAIOption func(*OpenAI)

// WithOpenAIHTTPClient overrides the HTTP client.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(o *OpenAI) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithOpenAISleeper overrides how submission backoff sleeps.
func WithOpenAISleeper(sleep func(time.Duration)) OpenAIOption {
	return func(o *OpenAI) { o.retry.Sleep = sleep }
}

// NewOpenAI builds the adapter from configuration.
func NewOpenAI(cfg *config.Config, opts ...OpenAIOption) *OpenAI {
	timeout := cfg.ProviderTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	o := &OpenAI{
		apiKey:       strings.TrimSpace(cfg.OpenAI.APIKey),
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.OpenAI.BaseURL), "/"),
		defaultModel: cfg.Finetune.DefaultBaseModel,
		httpClient:   &http.Client{Timeout: timeout},
		retry:        RetryPolicy{Attempts: cfg.Finetune.SubmitAttempts, Backoff: cfg.SubmitBackoff()},
	}
	if o.baseURL == "" {
		o.baseURL = "https://api.openai.com/v1"
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name implements Provider.
func (o *OpenAI) Name() string { return NameOpenAI }

func (o *OpenAI) requireKey(op string) error {
	if o.apiKey == "" {
		return services.Wrap(services.ErrConfiguration, "openai", op, "OPENAI_API_KEY not configured", nil)
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type trainingExample struct {
	Messages []chatMessage `json:"messages"`
}

// TrainingJSONL renders texts as chat examples that echo each sample.
func TrainingJSONL(lang string, texts []string) ([]byte, error) {
	system := fmt.Sprintf("You are an AI assistant trained on %s language data.", lang)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, text := range texts {
		if err := enc.Encode(trainingExample{Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: text},
			{Role: "assistant", Content: text},
		}}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type fileObject struct {
	ID string `json:"id"`
}

type jobHyperparameters struct {
	NEpochs                any `json:"n_epochs,omitempty"`
	BatchSize              any `json:"batch_size,omitempty"`
	LearningRateMultiplier any `json:"learning_rate_multiplier,omitempty"`
}

type createJobRequest struct {
	TrainingFile    string             `json:"training_file"`
	ValidationFile  string             `json:"validation_file,omitempty"`
	Model           string             `json:"model"`
	Hyperparameters jobHyperparameters `json:"hyperparameters"`
	Suffix          string             `json:"suffix,omitempty"`
}

type jobObject struct {
	ID              string             `json:"id"`
	Status          string             `json:"status"`
	FineTunedModel  string             `json:"fine_tuned_model"`
	TrainedTokens   int                `json:"trained_tokens"`
	ResultFiles     []string           `json:"result_files"`
	Hyperparameters jobHyperparameters `json:"hyperparameters"`
	Error           *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Submit uploads the train and validation splits then creates the job.
func (o *OpenAI) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := o.requireKey("submit"); err != nil {
		return "", err
	}
	if req.Job == nil || req.Dataset == nil || req.Partitions == nil {
		return "", services.Wrap(services.ErrValidation, "openai", "submit", "job, dataset and partitions are required", nil)
	}
	train, err := TrainingJSONL(req.Dataset.Language, texts(req.Partitions.Train))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "openai", "submit", "encode training data", err)
	}
	trainingFile, err := o.uploadFile(ctx, train, "training")
	if err != nil {
		return "", err
	}
	var validationFile string
	if len(req.Partitions.Validation) > 0 {
		validation, err := TrainingJSONL(req.Dataset.Language, texts(req.Partitions.Validation))
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "openai", "submit", "encode validation data", err)
		}
		if validationFile, err = o.uploadFile(ctx, validation, "validation"); err != nil {
			return "", err
		}
	}

	model := strings.TrimSpace(req.Job.Model)
	if model == "" {
		model = o.defaultModel
	}
	params := req.Job.Parameters
	body, err := json.Marshal(createJobRequest{
		TrainingFile:   trainingFile,
		ValidationFile: validationFile,
		Model:          model,
		Hyperparameters: jobHyperparameters{
			NEpochs:                params.Epochs,
			BatchSize:              params.BatchSize,
			LearningRateMultiplier: params.LearningRate / baseLearningRate,
		},
		Suffix: "bhasha-" + req.Dataset.Language,
	})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "openai", "submit", "encode job request", err)
	}

	var job jobObject
	err = withRetry(ctx, o.retry, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/fine_tuning/jobs", bytes.NewReader(body))
		if err != nil {
			return err
		}
		o.authorize(httpReq)
		httpReq.Header.Set("Content-Type", "application/json")
		raw, err := do(o.httpClient, httpReq)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &job)
	})
	if err != nil {
		return "", providerError("openai", "submit", "create fine-tuning job", err)
	}
	if job.ID == "" {
		return "", providerError("openai", "submit", "response missing job id", nil)
	}
	return job.ID, nil
}

func (o *OpenAI) uploadFile(ctx context.Context, data []byte, purpose string) (string, error) {
	var file fileObject
	err := withRetry(ctx, o.retry, func() error {
		var buf bytes.Buffer
		form := multipart.NewWriter(&buf)
		part, err := form.CreateFormFile("file", purpose+".jsonl")
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
		if err := form.WriteField("purpose", "fine-tune"); err != nil {
			return err
		}
		if err := form.Close(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/files", &buf)
		if err != nil {
			return err
		}
		o.authorize(req)
		req.Header.Set("Content-Type", form.FormDataContentType())
		raw, err := do(o.httpClient, req)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &file)
	})
	if err != nil {
		return "", providerError("openai", "upload", fmt.Sprintf("upload %s file", purpose), err)
	}
	if file.ID == "" {
		return "", providerError("openai", "upload", "response missing file id", nil)
	}
	return file.ID, nil
}

// Poll fetches the job once.
func (o *OpenAI) Poll(ctx context.Context, job *store.FinetuneJob) (*JobUpdate, error) {
	if err := o.requireKey("poll"); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/fine_tuning/jobs/"+url.PathEscape(job.ProviderJobID), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "openai", "poll", "build request", err)
	}
	o.authorize(req)
	raw, err := do(o.httpClient, req)
	if err != nil {
		return nil, providerError("openai", "poll", "fetch job status", err)
	}
	var obj jobObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, providerError("openai", "poll", "decode job status", err)
	}

	update := &JobUpdate{
		Status:    MapStatus(obj.Status),
		RawStatus: obj.Status,
		Steps:     obj.TrainedTokens,
		Epoch:     intValue(obj.Hyperparameters.NEpochs),
		ModelID:   obj.FineTunedModel,
	}
	if obj.Error != nil {
		update.Error = obj.Error.Message
	}
	update.Results, _ = json.Marshal(map[string]any{
		"fineTunedModel": obj.FineTunedModel,
		"trainedTokens":  obj.TrainedTokens,
		"resultFiles":    obj.ResultFiles,
	})
	return update, nil
}

// Cancel asks the provider to stop the job.
func (o *OpenAI) Cancel(ctx context.Context, job *store.FinetuneJob) error {
	if err := o.requireKey("cancel"); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/fine_tuning/jobs/"+url.PathEscape(job.ProviderJobID)+"/cancel", nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "openai", "cancel", "build request", err)
	}
	o.authorize(req)
	if _, err := do(o.httpClient, req); err != nil {
		return providerError("openai", "cancel", "cancel job", err)
	}
	return nil
}

func (o *OpenAI) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
}

func texts(items []store.ContentItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Text
	}
	return out
}
