package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bhasha/internal/config"
	"bhasha/internal/sqlitex"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

const taskColumns = "id, kind, task_key, payload_json, status, attempts, run_at, last_error, claimed_at, created_at, updated_at"

// Queue manages task persistence backed by SQLite.
type Queue struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the task database configured by cfg.
func Open(cfg *config.Config) (*Queue, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	db, err := sqlitex.Open(cfg.QueuePath())
	if err != nil {
		return nil, err
	}
	q := &Queue{db: db, path: cfg.QueuePath(), now: func() time.Time { return time.Now().UTC() }}
	if err := sqlitex.InitSchema(context.Background(), db, schemaSQL, schemaVersion, "task queue"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

// Close closes the underlying database connection.
func (q *Queue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Path returns the database file location.
func (q *Queue) Path() string {
	return q.path
}

func scanTask(row interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		t                      Task
		key, payload, lastErr  sql.NullString
		claimedRaw             sql.NullString
		status, runAtRaw       string
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&t.ID, &t.Kind, &key, &payload, &status, &t.Attempts, &runAtRaw, &lastErr, &claimedRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	t.Key = key.String
	if payload.Valid && payload.String != "" {
		t.Payload = json.RawMessage(payload.String)
	}
	t.Status = Status(status)
	t.LastError = lastErr.String
	t.ClaimedAt = sqlitex.ParseTimePtr(claimedRaw.String)
	if ts, err := sqlitex.ParseTime(runAtRaw); err == nil {
		t.RunAt = ts
	}
	if ts, err := sqlitex.ParseTime(createdRaw); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := sqlitex.ParseTime(updatedRaw); err == nil {
		t.UpdatedAt = ts
	}
	return &t, nil
}

// Enqueue schedules a task to run as soon as a worker is free.
func (q *Queue) Enqueue(ctx context.Context, kind, key string, payload any) (*Task, error) {
	return q.RunAfter(ctx, 0, kind, key, payload)
}

// RunAfter schedules a task to become due after delay.
func (q *Queue) RunAfter(ctx context.Context, delay time.Duration, kind, key string, payload any) (*Task, error) {
	if kind == "" {
		return nil, errors.New("task kind is required")
	}
	var raw any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode task payload: %w", err)
		}
		raw = string(data)
	}
	now := q.now()
	ts := sqlitex.FormatTime(now)
	res, err := sqlitex.Exec(ctx, q.db,
		`INSERT INTO tasks (kind, task_key, payload_json, status, attempts, run_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		kind, sqlitex.NullableString(key), raw, string(StatusPending), sqlitex.FormatTime(now.Add(delay)), ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return q.Get(ctx, id)
}

// Get fetches a task by identifier, returning nil, nil when missing.
func (q *Queue) Get(ctx context.Context, id int64) (*Task, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ClaimNext marks the oldest due pending task as running and returns it.
// It returns nil, nil when nothing is due.
func (q *Queue) ClaimNext(ctx context.Context) (*Task, error) {
	var claimed *Task
	err := sqlitex.WithTx(ctx, q.db, func(tx *sql.Tx) error {
		claimed = nil
		now := sqlitex.FormatTime(q.now())
		row := tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE status = ? AND run_at <= ? ORDER BY run_at, id LIMIT 1`,
			string(StatusPending), now)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select due task: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(StatusRunning), now, now, t.ID, string(StatusPending))
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		t.Status = StatusRunning
		t.Attempts++
		claimedAt := q.now()
		t.ClaimedAt = &claimedAt
		claimed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks a task done.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	return q.settle(ctx, id, StatusDone, "", nil)
}

// Fail marks a task permanently failed.
func (q *Queue) Fail(ctx context.Context, id int64, reason string) error {
	return q.settle(ctx, id, StatusFailed, reason, nil)
}

// Retry returns a task to pending, due after delay.
func (q *Queue) Retry(ctx context.Context, id int64, reason string, delay time.Duration) error {
	runAt := q.now().Add(delay)
	return q.settle(ctx, id, StatusPending, reason, &runAt)
}

func (q *Queue) settle(ctx context.Context, id int64, status Status, reason string, runAt *time.Time) error {
	ts := sqlitex.FormatTime(q.now())
	query := `UPDATE tasks SET status = ?, last_error = ?, claimed_at = NULL, updated_at = ?`
	args := []any{string(status), sqlitex.NullableString(reason), ts}
	if runAt != nil {
		query += `, run_at = ?`
		args = append(args, sqlitex.FormatTime(*runAt))
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	res, err := sqlitex.Exec(ctx, q.db, query, args...)
	if err != nil {
		return fmt.Errorf("settle task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("settle task %d: not found", id)
	}
	return nil
}

// ResetRunning returns every running task to pending. Used at worker startup
// when no other worker can hold claims.
func (q *Queue) ResetRunning(ctx context.Context) (int64, error) {
	ts := sqlitex.FormatTime(q.now())
	res, err := sqlitex.Exec(ctx, q.db,
		`UPDATE tasks SET status = ?, claimed_at = NULL, updated_at = ? WHERE status = ?`,
		string(StatusPending), ts, string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("reset running tasks: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStale returns running tasks claimed before cutoff to pending.
func (q *Queue) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := sqlitex.FormatTime(q.now())
	res, err := sqlitex.Exec(ctx, q.db,
		`UPDATE tasks SET status = ?, claimed_at = NULL, last_error = 'reclaimed from stale claim', updated_at = ?
         WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at < ?`,
		string(StatusPending), ts, string(StatusRunning), sqlitex.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale tasks: %w", err)
	}
	return res.RowsAffected()
}

// HasOutstanding reports whether a pending or running task exists for kind
// and key.
func (q *Queue) HasOutstanding(ctx context.Context, kind, key string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tasks WHERE kind = ? AND COALESCE(task_key, '') = ? AND status IN (?, ?)`,
		kind, key, string(StatusPending), string(StatusRunning),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check outstanding tasks: %w", err)
	}
	return count > 0, nil
}

// List returns tasks matching any of statuses (all when empty), oldest first.
func (q *Queue) List(ctx context.Context, statuses ...Status) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + sqlitex.Placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY id`
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Stats returns a count of tasks grouped by status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()
	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusDone:
			stats.Done = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// PurgeFinished deletes done tasks last updated before cutoff.
func (q *Queue) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := sqlitex.Exec(ctx, q.db, `DELETE FROM tasks WHERE status = ? AND updated_at < ?`,
		string(StatusDone), sqlitex.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge finished tasks: %w", err)
	}
	return res.RowsAffected()
}
