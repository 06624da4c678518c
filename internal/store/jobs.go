package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bhasha/internal/sqlitex"
)

const jobColumns = "id, user_id, dataset_id, status, parameters_json, provider, model, connection_id, provider_job_id, model_id, metrics_json, results_json, error_message, estimated_cost, estimated_minutes, completed_at, created_at, updated_at"

func scanJob(row scanner) (*FinetuneJob, error) {
	var (
		job                                  FinetuneJob
		status, params, metrics              string
		connectionID, providerJobID, modelID sql.NullString
		results, errorMessage, completedRaw  sql.NullString
		createdRaw, updatedRaw               string
	)
	if err := row.Scan(
		&job.ID, &job.UserID, &job.DatasetID, &status, &params, &job.Provider, &job.Model,
		&connectionID, &providerJobID, &modelID, &metrics, &results, &errorMessage,
		&job.EstimatedCost, &job.EstimatedMinutes, &completedRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.ConnectionID = connectionID.String
	job.ProviderJobID = providerJobID.String
	job.ModelID = modelID.String
	job.ErrorMessage = errorMessage.String
	if results.Valid && results.String != "" {
		job.Results = []byte(results.String)
	}
	if err := sqlitex.UnmarshalJSON(params, &job.Parameters); err != nil {
		return nil, err
	}
	if err := sqlitex.UnmarshalJSON(metrics, &job.Metrics); err != nil {
		return nil, err
	}
	job.CompletedAt = sqlitex.ParseTimePtr(completedRaw.String)
	if t, err := sqlitex.ParseTime(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := sqlitex.ParseTime(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

func jobJSON(job *FinetuneJob) (params, metrics, results any, err error) {
	if job.Metrics.Loss == nil {
		job.Metrics.Loss = []float64{}
	}
	if params, err = sqlitex.MarshalJSON(job.Parameters); err != nil {
		return
	}
	if metrics, err = sqlitex.MarshalJSON(job.Metrics); err != nil {
		return
	}
	if len(job.Results) > 0 {
		results = string(job.Results)
	}
	return
}

// InsertJob persists a new fine-tune job.
func (s *Store) InsertJob(ctx context.Context, job *FinetuneJob) error {
	now, ts := s.timestamp()
	if job.ID == "" {
		job.ID = newID()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	params, metrics, results, err := jobJSON(job)
	if err != nil {
		return err
	}
	if _, err := sqlitex.Exec(ctx, s.db,
		`INSERT INTO finetune_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.DatasetID, string(job.Status), params, job.Provider, job.Model,
		sqlitex.NullableString(job.ConnectionID), sqlitex.NullableString(job.ProviderJobID),
		sqlitex.NullableString(job.ModelID), metrics, results, sqlitex.NullableString(job.ErrorMessage),
		job.EstimatedCost, job.EstimatedMinutes, sqlitex.NullableTime(job.CompletedAt), ts, ts,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob persists the mutable fields of job.
func (s *Store) UpdateJob(ctx context.Context, job *FinetuneJob) error {
	now, ts := s.timestamp()
	job.UpdatedAt = now
	_, metrics, results, err := jobJSON(job)
	if err != nil {
		return err
	}
	res, err := sqlitex.Exec(ctx, s.db,
		`UPDATE finetune_jobs SET status = ?, provider_job_id = ?, model_id = ?, metrics_json = ?, results_json = ?,
            error_message = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), sqlitex.NullableString(job.ProviderJobID), sqlitex.NullableString(job.ModelID),
		metrics, results, sqlitex.NullableString(job.ErrorMessage), sqlitex.NullableTime(job.CompletedAt), ts, job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return requireAffected(res, "finetune job")
}

// GetJob returns nil, nil when the job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*FinetuneJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM finetune_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first. Empty filters match everything.
func (s *Store) ListJobs(ctx context.Context, userID string, status JobStatus, limit int) ([]FinetuneJob, error) {
	query := `SELECT ` + jobColumns + ` FROM finetune_jobs WHERE 1 = 1`
	var args []any
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []FinetuneJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}
