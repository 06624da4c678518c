package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSession()
	c.normalizeOpenAI()
	c.normalizeQuality()
	c.normalizeCuration()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSession() {
	c.Session.UserID = strings.TrimSpace(c.Session.UserID)
	if c.Session.UserID == "" {
		if value, ok := os.LookupEnv("BHASHA_USER"); ok {
			c.Session.UserID = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeOpenAI() {
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)
	if c.OpenAI.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.OpenAI.APIKey = strings.TrimSpace(value)
		}
	}
	c.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAI.BaseURL), "/")
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = defaultOpenAITimeout
	}
}

func (c *Config) normalizeQuality() {
	c.Quality.APIKey = strings.TrimSpace(c.Quality.APIKey)
	if c.Quality.APIKey == "" {
		if value, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
			c.Quality.APIKey = strings.TrimSpace(value)
		}
	}
	c.Quality.BaseURL = strings.TrimRight(strings.TrimSpace(c.Quality.BaseURL), "/")
	if c.Quality.BaseURL == "" {
		c.Quality.BaseURL = defaultQualityBaseURL
	}
	c.Quality.Model = strings.TrimSpace(c.Quality.Model)
	if c.Quality.Model == "" {
		c.Quality.Model = defaultQualityModel
	}
	if c.Quality.TimeoutSeconds <= 0 {
		c.Quality.TimeoutSeconds = defaultQualityTimeout
	}
}

func (c *Config) normalizeCuration() {
	c.Curation.ImportSourceTag = strings.TrimSpace(c.Curation.ImportSourceTag)
	if c.Curation.ImportSourceTag == "" {
		c.Curation.ImportSourceTag = defaultImportSourceTag
	}
	c.Finetune.DefaultBaseModel = strings.TrimSpace(c.Finetune.DefaultBaseModel)
	if c.Finetune.DefaultBaseModel == "" {
		c.Finetune.DefaultBaseModel = defaultBaseModel
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}
