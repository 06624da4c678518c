package store

import (
	"encoding/json"
	"strings"
	"time"

	"bhasha/internal/hyperparams"
	"bhasha/internal/tokenstats"
)

// ContentStatus is the publication state of a content item.
type ContentStatus string

const (
	ContentDraft     ContentStatus = "draft"
	ContentPublished ContentStatus = "published"
)

// ParseContentStatus validates a status name; empty maps to draft.
func ParseContentStatus(value string) (ContentStatus, bool) {
	switch ContentStatus(strings.ToLower(strings.TrimSpace(value))) {
	case "", ContentDraft:
		return ContentDraft, true
	case ContentPublished:
		return ContentPublished, true
	default:
		return "", false
	}
}

// MixedContentType marks a dataset spanning several content types.
const MixedContentType = "mixed"

// ContentItem is a single contributed text sample.
type ContentItem struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Text            string          `json:"text"`
	Language        string          `json:"language"`
	ContentType     string          `json:"contentType"`
	Region          string          `json:"region,omitempty"`
	Category        string          `json:"category,omitempty"`
	Source          string          `json:"source,omitempty"`
	Dialect         string          `json:"dialect,omitempty"`
	CulturalContext string          `json:"culturalContext,omitempty"`
	Status          ContentStatus   `json:"status"`
	QualityScore    float64         `json:"qualityScore"`
	AIAnalysis      json.RawMessage `json:"aiAnalysis,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// DatasetMetadata holds derived corpus statistics.
type DatasetMetadata struct {
	AvgTokens         float64                  `json:"avgTokens"`
	Regions           []string                 `json:"regions"`
	Categories        []string                 `json:"categories"`
	TokenDistribution *tokenstats.Distribution `json:"tokenDistribution,omitempty"`
}

// Dataset is a named snapshot of content ids used for training.
type Dataset struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Name         string          `json:"name"`
	Language     string          `json:"language"`
	ContentType  string          `json:"contentType"`
	Size         int             `json:"size"`
	EntryIDs     []string        `json:"entryIds"`
	QualityScore float64         `json:"qualityScore"`
	Metadata     DatasetMetadata `json:"metadata"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// DatasetReady is the status of a persisted dataset snapshot.
const DatasetReady = "ready"

// ExternalSource identifies where raw import data came from.
type ExternalSource string

const (
	SourceUpload ExternalSource = "upload"
	SourceURL    ExternalSource = "url"
	SourceKaggle ExternalSource = "kaggle"
)

// ExternalStatus tracks processing of a raw import source.
type ExternalStatus string

const (
	ExternalPending    ExternalStatus = "pending"
	ExternalProcessing ExternalStatus = "processing"
	ExternalCompleted  ExternalStatus = "completed"
	ExternalFailed     ExternalStatus = "failed"
)

// ExternalDataset wraps a raw import payload.
type ExternalDataset struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	Name             string         `json:"name"`
	Source           ExternalSource `json:"source"`
	SourceIdentifier string         `json:"sourceIdentifier"`
	Format           string         `json:"format,omitempty"`
	RawData          string         `json:"-"`
	Status           ExternalStatus `json:"status"`
	TotalRecords     int            `json:"totalRecords"`
	ProcessedRecords int            `json:"processedRecords"`
	ErrorLog         []string       `json:"errorLog"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// PipelineStatus is a state of the import pipeline state machine.
type PipelineStatus string

const (
	PipelinePending         PipelineStatus = "pending"
	PipelineNormalizing     PipelineStatus = "normalizing"
	PipelineValidating      PipelineStatus = "validating"
	PipelineIngesting       PipelineStatus = "ingesting"
	PipelineCreatingDataset PipelineStatus = "creating_dataset"
	PipelineFineTuning      PipelineStatus = "fine_tuning"
	PipelineCompleted       PipelineStatus = "completed"
	PipelineFailed          PipelineStatus = "failed"
	PipelineCancelled       PipelineStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineCompleted, PipelineFailed, PipelineCancelled:
		return true
	default:
		return false
	}
}

var terminalPipelineStatuses = []any{PipelineCompleted, PipelineFailed, PipelineCancelled}

// PipelineDatasetConfig configures automatic dataset creation.
type PipelineDatasetConfig struct {
	Name string `json:"name,omitempty" yaml:"name"`
}

// PipelineFinetuneConfig configures automatic fine-tune submission.
type PipelineFinetuneConfig struct {
	Provider     string              `json:"provider" yaml:"provider"`
	Model        string              `json:"model,omitempty" yaml:"model"`
	ConnectionID string              `json:"connectionId,omitempty" yaml:"connection_id"`
	Parameters   *hyperparams.Params `json:"parameters,omitempty" yaml:"parameters"`
}

// PipelineConfig is the user supplied configuration of an import pipeline.
type PipelineConfig struct {
	FieldMappings       map[string]string       `json:"fieldMappings" yaml:"field_mappings"`
	Format              string                  `json:"format,omitempty" yaml:"format"`
	AutoDetectLanguage  bool                    `json:"autoDetectLanguage" yaml:"auto_detect_language"`
	RemoveDuplicates    bool                    `json:"removeDuplicates" yaml:"remove_duplicates"`
	EnableAIAnalysis    bool                    `json:"enableAIAnalysis" yaml:"enable_ai_analysis"`
	DefaultContentType  string                  `json:"defaultContentType,omitempty" yaml:"default_content_type"`
	DefaultLanguage     string                  `json:"defaultLanguage,omitempty" yaml:"default_language"`
	DefaultStatus       string                  `json:"defaultStatus" yaml:"default_status"`
	MinQualityThreshold float64                 `json:"minQualityThreshold" yaml:"min_quality_threshold"`
	AutoCreateDataset   bool                    `json:"autoCreateDataset" yaml:"auto_create_dataset"`
	DatasetConfig       *PipelineDatasetConfig  `json:"datasetConfig,omitempty" yaml:"dataset"`
	AutoFinetune        bool                    `json:"autoFinetune" yaml:"auto_finetune"`
	FinetuneConfig      *PipelineFinetuneConfig `json:"finetuneConfig,omitempty" yaml:"finetune"`
}

// TotalSteps returns 3 base steps plus one per enabled optional stage.
func (c PipelineConfig) TotalSteps() int {
	steps := 3
	if c.AutoCreateDataset {
		steps++
	}
	if c.AutoFinetune {
		steps++
	}
	return steps
}

// Pipeline is a resumable import job.
type Pipeline struct {
	ID                string         `json:"id"`
	UserID            string         `json:"userId"`
	ExternalDatasetID string         `json:"externalDatasetId"`
	Status            PipelineStatus `json:"status"`
	CurrentStep       int            `json:"currentStep"`
	TotalSteps        int            `json:"totalSteps"`
	ContentIDs        []string       `json:"contentIds"`
	Config            PipelineConfig `json:"config"`
	ErrorLog          []string       `json:"errorLog"`
	DatasetID         string         `json:"datasetId,omitempty"`
	FinetuneJobID     string         `json:"finetuneJobId,omitempty"`
	StartedAt         *time.Time     `json:"startedAt,omitempty"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// JobStatus is the canonical fine-tune job status.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job has finished.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobMetrics accumulate while a job is running.
type JobMetrics struct {
	Loss         []float64 `json:"loss"`
	Steps        int       `json:"steps"`
	CurrentEpoch int       `json:"currentEpoch"`
}

// FinetuneJob records one training run request.
type FinetuneJob struct {
	ID               string             `json:"id"`
	UserID           string             `json:"userId"`
	DatasetID        string             `json:"datasetId"`
	Status           JobStatus          `json:"status"`
	Parameters       hyperparams.Params `json:"parameters"`
	Provider         string             `json:"provider"`
	Model            string             `json:"model"`
	ConnectionID     string             `json:"connectionId,omitempty"`
	ProviderJobID    string             `json:"providerJobId,omitempty"`
	ModelID          string             `json:"modelId,omitempty"`
	Metrics          JobMetrics         `json:"metrics"`
	Results          json.RawMessage    `json:"results,omitempty"`
	ErrorMessage     string             `json:"errorMessage,omitempty"`
	EstimatedCost    float64            `json:"estimatedCost"`
	EstimatedMinutes int                `json:"estimatedTimeMinutes"`
	CompletedAt      *time.Time         `json:"completedAt,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// Connection is a user-registered custom fine-tuning endpoint.
type Connection struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Name            string     `json:"name"`
	APIEndpoint     string     `json:"apiEndpoint"`
	StatusEndpoint  string     `json:"statusEndpoint,omitempty"`
	AuthType        string     `json:"authType"`
	APIKey          string     `json:"-"`
	DataFormat      string     `json:"dataFormat"`
	ModelIdentifier string     `json:"modelIdentifier,omitempty"`
	Active          bool       `json:"isActive"`
	TestStatus      string     `json:"testStatus,omitempty"`
	LastTestedAt    *time.Time `json:"lastTested,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// PromptStatus tracks evaluation of a test prompt.
type PromptStatus string

const (
	PromptPending   PromptStatus = "pending"
	PromptCompleted PromptStatus = "completed"
	PromptFailed    PromptStatus = "failed"
)

// TestPrompt compares base and fine-tuned model outputs.
type TestPrompt struct {
	ID               string       `json:"id"`
	UserID           string       `json:"userId"`
	JobID            string       `json:"jobId"`
	Prompt           string       `json:"prompt"`
	ExpectedOutput   string       `json:"expectedOutput,omitempty"`
	BaseModelOutput  string       `json:"baseModelOutput,omitempty"`
	FineTunedOutput  string       `json:"fineTunedOutput,omitempty"`
	BLEUScore        *float64     `json:"bleuScore,omitempty"`
	CulturalAccuracy *float64     `json:"culturalAccuracy,omitempty"`
	Status           PromptStatus `json:"status"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Activity is an entry in a user's activity feed.
type Activity struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	Action        string         `json:"action"`
	ContentID     string         `json:"contentId,omitempty"`
	DatasetID     string         `json:"datasetId,omitempty"`
	FinetuneJobID string         `json:"finetuneJobId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}
