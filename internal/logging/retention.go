package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bhasha/internal/config"
)

// RunLogPattern matches the per-run daemon logs kept under log_dir.
const RunLogPattern = "bhasha-*.log"

// RunLogPath names the log file for a daemon run started at started.
func RunLogPath(cfg *config.Config, started time.Time) string {
	return filepath.Join(cfg.Paths.LogDir, "bhasha-"+started.UTC().Format("20060102T150405.000Z")+".log")
}

// PruneRunLogs removes run logs in dir last written more than retentionDays
// ago and returns how many went. keep and the file bhasha.log points at are
// never removed. retentionDays <= 0 disables pruning.
func PruneRunLogs(logger *slog.Logger, dir string, retentionDays int, keep string) int {
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	matches, err := filepath.Glob(filepath.Join(dir, RunLogPattern))
	if err != nil || len(matches) == 0 {
		return 0
	}

	protected := map[string]bool{}
	for _, path := range []string{keep, filepath.Join(dir, "bhasha.log")} {
		if path != "" {
			protected[canonical(path)] = true
		}
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if protected[canonical(path)] {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "run log not pruned", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check log_dir ownership"),
				String(FieldImpact, "old run log stays on disk"),
			)
			continue
		}
		removed++
		logger.Debug("run log pruned", String("path", path))
	}
	if removed > 0 {
		logger.Info("old run logs pruned",
			Int("removed", removed),
			Int("retention_days", retentionDays),
			String(FieldEventType, "log_pruned"),
		)
	}
	return removed
}

// canonical resolves links so a run log and the pointer to it compare equal.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
