package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bhasha/internal/sqlitex"
)

const pipelineColumns = "id, user_id, external_dataset_id, status, current_step, total_steps, content_ids_json, config_json, error_log_json, dataset_id, finetune_job_id, started_at, completed_at, created_at, updated_at"

func scanPipeline(row scanner) (*Pipeline, error) {
	var (
		p                        Pipeline
		status, configRaw        string
		contentIDs, errorLog     sql.NullString
		datasetID, jobID         sql.NullString
		startedRaw, completedRaw sql.NullString
		createdRaw, updatedRaw   string
	)
	if err := row.Scan(
		&p.ID, &p.UserID, &p.ExternalDatasetID, &status, &p.CurrentStep, &p.TotalSteps,
		&contentIDs, &configRaw, &errorLog, &datasetID, &jobID,
		&startedRaw, &completedRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	p.Status = PipelineStatus(status)
	p.DatasetID = datasetID.String
	p.FinetuneJobID = jobID.String
	if err := sqlitex.UnmarshalJSON(contentIDs.String, &p.ContentIDs); err != nil {
		return nil, err
	}
	if err := sqlitex.UnmarshalJSON(configRaw, &p.Config); err != nil {
		return nil, err
	}
	if err := sqlitex.UnmarshalJSON(errorLog.String, &p.ErrorLog); err != nil {
		return nil, err
	}
	p.StartedAt = sqlitex.ParseTimePtr(startedRaw.String)
	p.CompletedAt = sqlitex.ParseTimePtr(completedRaw.String)
	if t, err := sqlitex.ParseTime(createdRaw); err == nil {
		p.CreatedAt = t
	}
	if t, err := sqlitex.ParseTime(updatedRaw); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

func pipelineJSON(p *Pipeline) (contentIDs, cfg, errorLog any, err error) {
	if p.ContentIDs == nil {
		p.ContentIDs = []string{}
	}
	if p.ErrorLog == nil {
		p.ErrorLog = []string{}
	}
	if contentIDs, err = sqlitex.MarshalJSON(p.ContentIDs); err != nil {
		return
	}
	if cfg, err = sqlitex.MarshalJSON(p.Config); err != nil {
		return
	}
	errorLog, err = sqlitex.MarshalJSON(p.ErrorLog)
	return
}

// InsertPipeline persists a new pipeline in the pending state.
func (s *Store) InsertPipeline(ctx context.Context, p *Pipeline) error {
	now, ts := s.timestamp()
	if p.ID == "" {
		p.ID = newID()
	}
	if p.Status == "" {
		p.Status = PipelinePending
	}
	if p.TotalSteps == 0 {
		p.TotalSteps = p.Config.TotalSteps()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	contentIDs, cfg, errorLog, err := pipelineJSON(p)
	if err != nil {
		return err
	}
	if _, err := sqlitex.Exec(ctx, s.db,
		`INSERT INTO import_pipelines (`+pipelineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.ExternalDatasetID, string(p.Status), p.CurrentStep, p.TotalSteps,
		contentIDs, cfg, errorLog,
		sqlitex.NullableString(p.DatasetID), sqlitex.NullableString(p.FinetuneJobID),
		sqlitex.NullableTime(p.StartedAt), sqlitex.NullableTime(p.CompletedAt), ts, ts,
	); err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

// GetPipeline returns nil, nil when the pipeline does not exist.
func (s *Store) GetPipeline(ctx context.Context, id string) (*Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM import_pipelines WHERE id = ?`, id)
	p, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	return p, nil
}

// ListPipelines returns a user's pipelines, newest first.
func (s *Store) ListPipelines(ctx context.Context, userID string, status PipelineStatus) ([]Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM import_pipelines WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY rowid DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()
	var out []Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ErrPipelineTerminal reports an attempted transition out of a terminal state.
var ErrPipelineTerminal = errors.New("pipeline already in a terminal state")

// MutatePipeline loads the pipeline, applies mutate and writes it back in one
// transaction. Terminal pipelines are never rewritten: the current record is
// returned with ErrPipelineTerminal. A missing pipeline returns nil, nil.
func (s *Store) MutatePipeline(ctx context.Context, id string, mutate func(*Pipeline) error) (*Pipeline, error) {
	var result *Pipeline
	err := sqlitex.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		result = nil
		row := tx.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM import_pipelines WHERE id = ?`, id)
		p, err := scanPipeline(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load pipeline: %w", err)
		}
		result = p
		if p.Status.IsTerminal() {
			return ErrPipelineTerminal
		}
		if err := mutate(p); err != nil {
			return err
		}
		now, ts := s.timestamp()
		p.UpdatedAt = now
		contentIDs, cfg, errorLog, err := pipelineJSON(p)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE import_pipelines SET status = ?, current_step = ?, content_ids_json = ?, config_json = ?,
                error_log_json = ?, dataset_id = ?, finetune_job_id = ?, started_at = ?, completed_at = ?, updated_at = ?
             WHERE id = ?`,
			string(p.Status), p.CurrentStep, contentIDs, cfg, errorLog,
			sqlitex.NullableString(p.DatasetID), sqlitex.NullableString(p.FinetuneJobID),
			sqlitex.NullableTime(p.StartedAt), sqlitex.NullableTime(p.CompletedAt), ts, p.ID,
		)
		if err != nil {
			return fmt.Errorf("update pipeline: %w", err)
		}
		return nil
	})
	return result, err
}
