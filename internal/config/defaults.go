package config

const (
	defaultDataDir             = "~/.local/share/bhasha"
	defaultLogDir              = "~/.local/share/bhasha/logs"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultTaskPollInterval    = 2
	defaultErrorRetryInterval  = 10
	defaultJobPollInterval     = 300
	defaultEvaluationInterval  = 60
	defaultMaxConcurrentPolls  = 4
	defaultTaskStaleTimeout    = 900
	defaultTaskMaxAttempts     = 3
	defaultPipelineStepDelayMS = 0
	defaultDuplicateThreshold  = 0.85
	defaultMaxImportErrors     = 100
	defaultImportSourceTag     = "pipeline_import"
	defaultSubmitAttempts      = 3
	defaultSubmitBackoff       = 2
	defaultRequestTimeout      = 60
	defaultTrainSplit          = 0.9
	defaultValidationSplit     = 0.1
	defaultTestSplit           = 0.0
	defaultCostPer1KTokens     = 0.008
	defaultBaseModel           = "gpt-4o-mini-2024-07-18"
	defaultOpenAIBaseURL       = "https://api.openai.com/v1"
	defaultOpenAITimeout       = 60
	defaultQualityBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	defaultQualityModel        = "gemini-1.5-flash"
	defaultQualityTimeout      = 30
	defaultNtfyTimeout         = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Workflow: Workflow{
			TaskPollInterval:    defaultTaskPollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			JobPollInterval:     defaultJobPollInterval,
			EvaluationInterval:  defaultEvaluationInterval,
			MaxConcurrentPolls:  defaultMaxConcurrentPolls,
			TaskStaleTimeout:    defaultTaskStaleTimeout,
			TaskMaxAttempts:     defaultTaskMaxAttempts,
			PipelineStepDelayMS: defaultPipelineStepDelayMS,
		},
		Curation: Curation{
			DuplicateThreshold: defaultDuplicateThreshold,
			MaxImportErrors:    defaultMaxImportErrors,
			ImportSourceTag:    defaultImportSourceTag,
		},
		Finetune: Finetune{
			SubmitAttempts:        defaultSubmitAttempts,
			SubmitBackoffSeconds:  defaultSubmitBackoff,
			RequestTimeoutSeconds: defaultRequestTimeout,
			TrainSplit:            defaultTrainSplit,
			ValidationSplit:       defaultValidationSplit,
			TestSplit:             defaultTestSplit,
			CostPer1KTokens:       defaultCostPer1KTokens,
			DefaultBaseModel:      defaultBaseModel,
		},
		OpenAI: OpenAI{
			BaseURL:        defaultOpenAIBaseURL,
			TimeoutSeconds: defaultOpenAITimeout,
		},
		Quality: Quality{
			Enabled:        true,
			BaseURL:        defaultQualityBaseURL,
			Model:          defaultQualityModel,
			TimeoutSeconds: defaultQualityTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
	}
}
