// Package daemonrun hosts the bhasha daemon process lifecycle.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bhasha/internal/app"
	"bhasha/internal/config"
	"bhasha/internal/daemon"
	"bhasha/internal/logging"
	"bhasha/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the bhasha daemon and blocks until the context ends or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logPath := logging.RunLogPath(cfg, time.Now())
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logConfigSnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update bhasha.log link: %v\n", err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, logPath)
	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	services, err := app.Open(cfg, logger)
	if err != nil {
		logger.Error("open databases", logging.Error(err))
		return err
	}
	defer services.Close()

	mgr := workflow.NewManager(cfg, services.Queue, logger)
	if err := services.Register(mgr); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	d, err := daemon.New(cfg, services.Queue, logger, mgr)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the other instance or check data directory permissions"),
			logging.String(logging.FieldImpact, "no background tasks will run"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("bhasha daemon shutting down")
	return nil
}

// PIDPath is where a running daemon records its process id.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "bhasha.pid")
}

// ReadPID returns the pid recorded by a running daemon, or 0 when none is.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(PIDPath(cfg))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func ensureCurrentLogPointer(cfg *config.Config, target string) error {
	if cfg.Paths.LogDir == "" || target == "" {
		return nil
	}
	current := logging.LogFilePath(cfg)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("user_id", cfg.Session.UserID),
		logging.Bool("openai_key_present", strings.TrimSpace(cfg.OpenAI.APIKey) != ""),
		logging.Bool("quality_enabled", cfg.Quality.Enabled),
		logging.Bool("quality_key_present", strings.TrimSpace(cfg.Quality.APIKey) != ""),
		logging.Int("job_poll_seconds", cfg.Workflow.JobPollInterval),
		logging.Int("evaluation_seconds", cfg.Workflow.EvaluationInterval),
	)
}
