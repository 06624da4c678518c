package store

import (
	"context"
	"database/sql"
	"fmt"

	"bhasha/internal/sqlitex"
)

// Activity actions recorded in the feed.
const (
	ActionContentCreated  = "content_created"
	ActionDatasetCreated  = "dataset_created"
	ActionFinetuneStarted = "finetune_started"
	ActionPipelineCreated = "pipeline_created"
)

// RecordActivity appends an entry to a user's activity feed.
func (s *Store) RecordActivity(ctx context.Context, a *Activity) error {
	now, ts := s.timestamp()
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = now
	var metadata any
	if a.Metadata != nil {
		raw, err := sqlitex.MarshalJSON(a.Metadata)
		if err != nil {
			return err
		}
		metadata = raw
	}
	if _, err := sqlitex.Exec(ctx, s.db,
		`INSERT INTO activities (id, user_id, action, content_id, dataset_id, finetune_job_id, metadata_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Action, sqlitex.NullableString(a.ContentID), sqlitex.NullableString(a.DatasetID),
		sqlitex.NullableString(a.FinetuneJobID), metadata, ts,
	); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ListActivities returns a user's most recent activity first.
func (s *Store) ListActivities(ctx context.Context, userID string, limit int) ([]Activity, error) {
	query := `SELECT id, user_id, action, content_id, dataset_id, finetune_job_id, metadata_json, created_at
              FROM activities WHERE user_id = ? ORDER BY rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		var (
			a                                 Activity
			contentID, datasetID, jobID, meta sql.NullString
			createdRaw                        string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &contentID, &datasetID, &jobID, &meta, &createdRaw); err != nil {
			return nil, err
		}
		a.ContentID = contentID.String
		a.DatasetID = datasetID.String
		a.FinetuneJobID = jobID.String
		if err := sqlitex.UnmarshalJSON(meta.String, &a.Metadata); err != nil {
			return nil, err
		}
		if t, err := sqlitex.ParseTime(createdRaw); err == nil {
			a.CreatedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
