package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateCuration(); err != nil {
		return err
	}
	if err := c.validateFinetune(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.task_poll_interval":   c.Workflow.TaskPollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.job_poll_interval":    c.Workflow.JobPollInterval,
		"workflow.evaluation_interval":  c.Workflow.EvaluationInterval,
		"workflow.max_concurrent_polls": c.Workflow.MaxConcurrentPolls,
		"workflow.task_stale_timeout":   c.Workflow.TaskStaleTimeout,
		"workflow.task_max_attempts":    c.Workflow.TaskMaxAttempts,
	}); err != nil {
		return err
	}
	if c.Workflow.PipelineStepDelayMS < 0 {
		return errors.New("workflow.pipeline_step_delay_ms must be zero or positive")
	}
	return nil
}

func (c *Config) validateCuration() error {
	if c.Curation.DuplicateThreshold <= 0 || c.Curation.DuplicateThreshold > 1 {
		return errors.New("curation.duplicate_threshold must be in (0, 1]")
	}
	if c.Curation.MaxImportErrors <= 0 {
		return errors.New("curation.max_import_errors must be positive")
	}
	return nil
}

func (c *Config) validateFinetune() error {
	if err := ensurePositiveMap(map[string]int{
		"finetune.submit_attempts":         c.Finetune.SubmitAttempts,
		"finetune.request_timeout_seconds": c.Finetune.RequestTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Finetune.SubmitBackoffSeconds < 0 {
		return errors.New("finetune.submit_backoff_seconds must be zero or positive")
	}
	if c.Finetune.CostPer1KTokens < 0 {
		return errors.New("finetune.cost_per_1k_tokens must be zero or positive")
	}
	splits := map[string]float64{
		"finetune.train_split":      c.Finetune.TrainSplit,
		"finetune.validation_split": c.Finetune.ValidationSplit,
		"finetune.test_split":       c.Finetune.TestSplit,
	}
	for key, value := range splits {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	}
	sum := c.Finetune.TrainSplit + c.Finetune.ValidationSplit + c.Finetune.TestSplit
	if sum > 1+1e-9 || math.IsNaN(sum) {
		return errors.New("finetune split ratios must sum to at most 1")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
