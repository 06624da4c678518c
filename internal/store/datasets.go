package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bhasha/internal/sqlitex"
)

const datasetColumns = "id, user_id, name, language, content_type, size, entry_ids_json, quality_score, metadata_json, status, created_at, updated_at"

func scanDataset(row scanner) (*Dataset, error) {
	var (
		ds                     Dataset
		entryIDs, metadata     string
		createdRaw, updatedRaw string
	)
	if err := row.Scan(
		&ds.ID, &ds.UserID, &ds.Name, &ds.Language, &ds.ContentType, &ds.Size,
		&entryIDs, &ds.QualityScore, &metadata, &ds.Status, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	if err := sqlitex.UnmarshalJSON(entryIDs, &ds.EntryIDs); err != nil {
		return nil, err
	}
	if err := sqlitex.UnmarshalJSON(metadata, &ds.Metadata); err != nil {
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

func encodeDataset(ds *Dataset) (entryIDs, metadata any, err error) {
	if ds.EntryIDs == nil {
		ds.EntryIDs = []string{}
	}
	if ds.Metadata.Regions == nil {
		ds.Metadata.Regions = []string{}
	}
	if ds.Metadata.Categories == nil {
		ds.Metadata.Categories = []string{}
	}
	ds.Size = len(ds.EntryIDs)
	if entryIDs, err = sqlitex.MarshalJSON(ds.EntryIDs); err != nil {
		return nil, nil, err
	}
	if metadata, err = sqlitex.MarshalJSON(ds.Metadata); err != nil {
		return nil, nil, err
	}
	return entryIDs, metadata, nil
}

// InsertDataset persists a new dataset. Size is derived from EntryIDs.
func (s *Store) InsertDataset(ctx context.Context, ds *Dataset) error {
	entryIDs, metadata, err := encodeDataset(ds)
	if err != nil {
		return err
	}
	now, ts := s.timestamp()
	if ds.ID == "" {
		ds.ID = newID()
	}
	if ds.Status == "" {
		ds.Status = DatasetReady
	}
	ds.CreatedAt = now
	ds.UpdatedAt = now
	if _, err := sqlitex.Exec(ctx, s.db,
		`INSERT INTO datasets (`+datasetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.UserID, ds.Name, ds.Language, ds.ContentType, ds.Size,
		entryIDs, ds.QualityScore, metadata, ds.Status, ts, ts,
	); err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

// UpdateDataset rewrites membership and derived metadata.
func (s *Store) UpdateDataset(ctx context.Context, ds *Dataset) error {
	entryIDs, metadata, err := encodeDataset(ds)
	if err != nil {
		return err
	}
	now, ts := s.timestamp()
	ds.UpdatedAt = now
	res, err := sqlitex.Exec(ctx, s.db,
		`UPDATE datasets SET name = ?, content_type = ?, size = ?, entry_ids_json = ?, quality_score = ?,
            metadata_json = ?, status = ?, updated_at = ? WHERE id = ?`,
		ds.Name, ds.ContentType, ds.Size, entryIDs, ds.QualityScore, metadata, ds.Status, ts, ds.ID,
	)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	return requireAffected(res, "dataset")
}

// GetDataset returns nil, nil when the dataset does not exist.
func (s *Store) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return ds, nil
}

// DatasetFilter narrows ListDatasets. Nil pointers match everything.
type DatasetFilter struct {
	UserID      string
	Language    string
	ContentType string
	MinQuality  *float64
	MinSize     *int
}

// ListDatasets returns matching datasets, newest first.
func (s *Store) ListDatasets(ctx context.Context, filter DatasetFilter) ([]Dataset, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Language != "" {
		clauses = append(clauses, "language = ?")
		args = append(args, filter.Language)
	}
	if filter.ContentType != "" {
		clauses = append(clauses, "content_type = ?")
		args = append(args, filter.ContentType)
	}
	if filter.MinQuality != nil {
		clauses = append(clauses, "quality_score >= ?")
		args = append(args, *filter.MinQuality)
	}
	if filter.MinSize != nil {
		clauses = append(clauses, "size >= ?")
		args = append(args, *filter.MinSize)
	}
	query := `SELECT ` + datasetColumns + ` FROM datasets`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()
	var out []Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	return out, rows.Err()
}
