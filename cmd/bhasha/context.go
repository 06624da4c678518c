package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/config"
	"bhasha/internal/logging"
	"bhasha/internal/services"
	"bhasha/internal/session"
)

type commandContext struct {
	configFlag  *string
	userFlag    *string
	jsonFlag    *bool
	verboseFlag *bool

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	app *app.App
}

func newCommandContext(configFlag, userFlag *string, jsonFlag, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		userFlag:    userFlag,
		jsonFlag:    jsonFlag,
		verboseFlag: verboseFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		if c.userFlag != nil && strings.TrimSpace(*c.userFlag) != "" {
			cfg.Session.UserID = strings.TrimSpace(*c.userFlag)
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// services opens the shared service graph once per invocation.
func (c *commandContext) services() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.Open(cfg, c.logger())
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

// withApp runs fn with the service graph and the acting user's session.
func (c *commandContext) withApp(fn func(*app.App, session.Session) error) error {
	a, err := c.services()
	if err != nil {
		return err
	}
	return fn(a, session.New(a.Config.Session.UserID))
}

func (c *commandContext) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

// logger writes service logs to stderr so stdout stays parseable.
func (c *commandContext) logger() *slog.Logger {
	level := "warn"
	if c.verboseFlag != nil && *c.verboseFlag {
		level = "debug"
	}
	format := "console"
	if c.config != nil {
		format = c.config.Logging.Format
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           format,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// describeError renders a service failure with its recovery hint.
func describeError(err error) string {
	var svcErr *services.ServiceError
	if !errors.As(err, &svcErr) {
		return err.Error()
	}
	details := services.Details(err)
	msg := fmt.Sprintf("%s: %s", details.Kind, details.Message)
	if details.Cause != nil {
		msg += fmt.Sprintf(" (%v)", details.Cause)
	}
	if details.Hint != "" {
		msg += "\nhint: " + details.Hint
	}
	return msg
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
