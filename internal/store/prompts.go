package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bhasha/internal/sqlitex"
)

const promptColumns = "id, user_id, job_id, prompt, expected_output, base_model_output, fine_tuned_output, bleu_score, cultural_accuracy, status, error_message, created_at, updated_at"

func scanPrompt(row scanner) (*TestPrompt, error) {
	var (
		p                                   TestPrompt
		expected, baseOut, tunedOut, errMsg sql.NullString
		bleu, cultural                      sql.NullFloat64
		status, createdRaw, updatedRaw      string
	)
	if err := row.Scan(
		&p.ID, &p.UserID, &p.JobID, &p.Prompt, &expected, &baseOut, &tunedOut,
		&bleu, &cultural, &status, &errMsg, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	p.ExpectedOutput = expected.String
	p.BaseModelOutput = baseOut.String
	p.FineTunedOutput = tunedOut.String
	p.ErrorMessage = errMsg.String
	p.Status = PromptStatus(status)
	if bleu.Valid {
		v := bleu.Float64
		p.BLEUScore = &v
	}
	if cultural.Valid {
		v := cultural.Float64
		p.CulturalAccuracy = &v
	}
	if t, err := sqlitex.ParseTime(createdRaw); err == nil {
		p.CreatedAt = t
	}
	if t, err := sqlitex.ParseTime(updatedRaw); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

// InsertPrompt persists a pending test prompt.
func (s *Store) InsertPrompt(ctx context.Context, p *TestPrompt) error {
	now, ts := s.timestamp()
	if p.ID == "" {
		p.ID = newID()
	}
	if p.Status == "" {
		p.Status = PromptPending
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	if _, err := sqlitex.Exec(ctx, s.db,
		`INSERT INTO test_prompts (`+promptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.JobID, p.Prompt, sqlitex.NullableString(p.ExpectedOutput),
		sqlitex.NullableString(p.BaseModelOutput), sqlitex.NullableString(p.FineTunedOutput),
		nullableFloat(p.BLEUScore), nullableFloat(p.CulturalAccuracy), string(p.Status),
		sqlitex.NullableString(p.ErrorMessage), ts, ts,
	); err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	return nil
}

// UpdatePromptResults records evaluation outputs and scores.
func (s *Store) UpdatePromptResults(ctx context.Context, p *TestPrompt) error {
	now, ts := s.timestamp()
	p.UpdatedAt = now
	res, err := sqlitex.Exec(ctx, s.db,
		`UPDATE test_prompts SET base_model_output = ?, fine_tuned_output = ?, bleu_score = ?, cultural_accuracy = ?,
            status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		sqlitex.NullableString(p.BaseModelOutput), sqlitex.NullableString(p.FineTunedOutput),
		nullableFloat(p.BLEUScore), nullableFloat(p.CulturalAccuracy), string(p.Status),
		sqlitex.NullableString(p.ErrorMessage), ts, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update prompt: %w", err)
	}
	return requireAffected(res, "test prompt")
}

// GetPrompt returns nil, nil when the prompt does not exist.
func (s *Store) GetPrompt(ctx context.Context, id string) (*TestPrompt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM test_prompts WHERE id = ?`, id)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return p, nil
}

// ListPromptsByJob returns a job's prompts in creation order.
func (s *Store) ListPromptsByJob(ctx context.Context, jobID string) ([]TestPrompt, error) {
	return s.queryPrompts(ctx, `SELECT `+promptColumns+` FROM test_prompts WHERE job_id = ? ORDER BY rowid`, jobID)
}

// ListPendingPrompts returns prompts awaiting evaluation, oldest first.
func (s *Store) ListPendingPrompts(ctx context.Context, limit int) ([]TestPrompt, error) {
	query := `SELECT ` + promptColumns + ` FROM test_prompts WHERE status = ? ORDER BY rowid`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryPrompts(ctx, query, string(PromptPending))
}

func (s *Store) queryPrompts(ctx context.Context, query string, args ...any) ([]TestPrompt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()
	var out []TestPrompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
