package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bhasha/internal/sqlitex"
)

const externalColumns = "id, user_id, name, source, source_identifier, format, raw_data, status, total_records, processed_records, error_log_json, created_at, updated_at"

func scanExternal(row scanner) (*ExternalDataset, error) {
	var (
		ds                     ExternalDataset
		source, status         string
		format, raw, errorLog  sql.NullString
		createdRaw, updatedRaw string
	)
	if err := row.Scan(
		&ds.ID, &ds.UserID, &ds.Name, &source, &ds.SourceIdentifier, &format, &raw, &status,
		&ds.TotalRecords, &ds.ProcessedRecords, &errorLog, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	ds.Source = ExternalSource(source)
	ds.Status = ExternalStatus(status)
	ds.Format = format.String
	ds.RawData = raw.String
	if err := sqlitex.UnmarshalJSON(errorLog.String, &ds.ErrorLog); err != nil {
		return nil, err
	}
	if t, err := sqlitex.ParseTime(createdRaw); err == nil {
		ds.CreatedAt = t
	}
	if t, err := sqlitex.ParseTime(updatedRaw); err == nil {
		ds.UpdatedAt = t
	}
	return &ds, nil
}

// InsertExternalDataset persists a raw import source.
func (s *Store) InsertExternalDataset(ctx context.Context, ds *ExternalDataset) error {
	now, ts := s.timestamp()
	if ds.ID == "" {
		ds.ID = newID()
	}
	if ds.Status == "" {
		ds.Status = ExternalPending
	}
	if ds.ErrorLog == nil {
		ds.ErrorLog = []string{}
	}
	ds.CreatedAt = now
	ds.UpdatedAt = now
	errorLog, err := sqlitex.MarshalJSON(ds.ErrorLog)
	if err != nil {
		return err
	}
	if _, err := sqlitex.Exec(ctx, s.db,
		`INSERT INTO external_datasets (`+externalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.UserID, ds.Name, string(ds.Source), ds.SourceIdentifier,
		sqlitex.NullableString(ds.Format), sqlitex.NullableString(ds.RawData), string(ds.Status),
		ds.TotalRecords, ds.ProcessedRecords, errorLog, ts, ts,
	); err != nil {
		return fmt.Errorf("insert external dataset: %w", err)
	}
	return nil
}

// GetExternalDataset returns nil, nil when the record does not exist.
func (s *Store) GetExternalDataset(ctx context.Context, id string) (*ExternalDataset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+externalColumns+` FROM external_datasets WHERE id = ?`, id)
	ds, err := scanExternal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get external dataset: %w", err)
	}
	return ds, nil
}

// ExternalProgress is a partial update of an external dataset.
type ExternalProgress struct {
	Status           ExternalStatus
	TotalRecords     *int
	ProcessedRecords *int
	ErrorLog         []string
}

// UpdateExternalProgress patches status, counts and error log. Nil fields are left unchanged.
func (s *Store) UpdateExternalProgress(ctx context.Context, id string, p ExternalProgress) error {
	sets := []string{"updated_at = ?"}
	_, ts := s.timestamp()
	args := []any{ts}
	if p.Status != "" {
		sets = append(sets, "status = ?")
		args = append(args, string(p.Status))
	}
	if p.TotalRecords != nil {
		sets = append(sets, "total_records = ?")
		args = append(args, *p.TotalRecords)
	}
	if p.ProcessedRecords != nil {
		sets = append(sets, "processed_records = ?")
		args = append(args, *p.ProcessedRecords)
	}
	if p.ErrorLog != nil {
		raw, err := sqlitex.MarshalJSON(p.ErrorLog)
		if err != nil {
			return err
		}
		sets = append(sets, "error_log_json = ?")
		args = append(args, raw)
	}
	args = append(args, id)
	res, err := sqlitex.Exec(ctx, s.db, `UPDATE external_datasets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update external dataset: %w", err)
	}
	return requireAffected(res, "external dataset")
}

// ListExternalDatasets returns a user's import sources, newest first.
func (s *Store) ListExternalDatasets(ctx context.Context, userID string, status ExternalStatus, source ExternalSource) ([]ExternalDataset, error) {
	query := `SELECT ` + externalColumns + ` FROM external_datasets WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY rowid DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list external datasets: %w", err)
	}
	defer rows.Close()
	var out []ExternalDataset
	for rows.Next() {
		ds, err := scanExternal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	return out, rows.Err()
}

// DeleteExternalDataset removes an import source.
func (s *Store) DeleteExternalDataset(ctx context.Context, id string) error {
	res, err := sqlitex.Exec(ctx, s.db, `DELETE FROM external_datasets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete external dataset: %w", err)
	}
	return requireAffected(res, "external dataset")
}
