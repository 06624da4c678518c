package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bhasha/internal/sqlitex"
	"bhasha/internal/textutil"
)

const contentColumns = "id, user_id, text, language, content_type, region, category, source, dialect, cultural_context, status, quality_score, ai_analysis_json, created_at, updated_at"

func scanContent(row scanner) (*ContentItem, error) {
	var (
		item                                        ContentItem
		region, category, source, dialect, cultural sql.NullString
		status                                      string
		analysis                                    sql.NullString
		createdRaw, updatedRaw                      string
	)
	if err := row.Scan(
		&item.ID, &item.UserID, &item.Text, &item.Language, &item.ContentType,
		&region, &category, &source, &dialect, &cultural,
		&status, &item.QualityScore, &analysis, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	item.Region = region.String
	item.Category = category.String
	item.Source = source.String
	item.Dialect = dialect.String
	item.CulturalContext = cultural.String
	item.Status = ContentStatus(status)
	if analysis.Valid && analysis.String != "" {
		item.AIAnalysis = []byte(analysis.String)
	}
	if t, err := sqlitex.ParseTime(createdRaw); err == nil {
		item.CreatedAt = t
	}
	if t, err := sqlitex.ParseTime(updatedRaw); err == nil {
		item.UpdatedAt = t
	}
	return &item, nil
}

func collectContent(rows *sql.Rows) ([]ContentItem, error) {
	defer rows.Close()
	var items []ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *Store) insertContent(ctx context.Context, exec execer, item *ContentItem) error {
	now, ts := s.timestamp()
	if item.ID == "" {
		item.ID = newID()
	}
	if item.Status == "" {
		item.Status = ContentDraft
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	var analysis any
	if len(item.AIAnalysis) > 0 {
		analysis = string(item.AIAnalysis)
	}
	_, err := exec.ExecContext(ctx,
		`INSERT INTO content (`+contentColumns+`, dedupe_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.Text, item.Language, item.ContentType,
		sqlitex.NullableString(item.Region),
		sqlitex.NullableString(item.Category),
		sqlitex.NullableString(item.Source),
		sqlitex.NullableString(item.Dialect),
		sqlitex.NullableString(item.CulturalContext),
		string(item.Status), item.QualityScore, analysis, ts, ts,
		textutil.DedupeKey(item.Text),
	)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

// InsertContent persists a new content item, assigning its id and timestamps.
func (s *Store) InsertContent(ctx context.Context, item *ContentItem) error {
	ctx = sqlitex.EnsureContext(ctx)
	return sqlitex.RetryOnBusy(ctx, func() error {
		return s.insertContent(ctx, s.db, item)
	})
}

// ContentGuard inspects same-language content before an insert and returns
// an error to veto it.
type ContentGuard func(existing []ContentItem) error

// InsertContentGuarded runs guard over every stored item in the new item's
// language and inserts only if it passes. Both happen in one transaction.
func (s *Store) InsertContentGuarded(ctx context.Context, item *ContentItem, guard ContentGuard) error {
	return sqlitex.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// A no-op write takes the SQLite write lock before the scan.
		if _, err := tx.ExecContext(ctx, `UPDATE content SET id = id WHERE 0`); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `SELECT `+contentColumns+` FROM content WHERE language = ? ORDER BY rowid`, item.Language)
		if err != nil {
			return fmt.Errorf("scan existing content: %w", err)
		}
		existing, err := collectContent(rows)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(existing); err != nil {
				return err
			}
		}
		return s.insertContent(ctx, tx, item)
	})
}

// GetContent returns nil, nil when the item does not exist.
func (s *Store) GetContent(ctx context.Context, id string) (*ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content WHERE id = ?`, id)
	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return item, nil
}

// GetContentByIDs returns the items that exist, in the order of ids.
func (s *Store) GetContentByIDs(ctx context.Context, ids []string) ([]ContentItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found := make(map[string]ContentItem, len(ids))
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		part := ids[start:end]
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+contentColumns+` FROM content WHERE id IN (`+sqlitex.Placeholders(len(part))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("get content by ids: %w", err)
		}
		items, err := collectContent(rows)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			found[item.ID] = item
		}
	}
	out := make([]ContentItem, 0, len(found))
	for _, id := range ids {
		if item, ok := found[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// UpdateContent persists every editable field of item.
func (s *Store) UpdateContent(ctx context.Context, item *ContentItem) error {
	_, ts := s.timestamp()
	var analysis any
	if len(item.AIAnalysis) > 0 {
		analysis = string(item.AIAnalysis)
	}
	res, err := sqlitex.Exec(ctx, s.db,
		`UPDATE content SET text = ?, dedupe_key = ?, language = ?, content_type = ?, region = ?, category = ?,
            source = ?, dialect = ?, cultural_context = ?, status = ?, quality_score = ?, ai_analysis_json = ?, updated_at = ?
         WHERE id = ?`,
		item.Text, textutil.DedupeKey(item.Text), item.Language, item.ContentType,
		sqlitex.NullableString(item.Region),
		sqlitex.NullableString(item.Category),
		sqlitex.NullableString(item.Source),
		sqlitex.NullableString(item.Dialect),
		sqlitex.NullableString(item.CulturalContext),
		string(item.Status), item.QualityScore, analysis, ts, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return requireAffected(res, "content")
}

// SetContentQuality records the outcome of quality analysis.
func (s *Store) SetContentQuality(ctx context.Context, id string, score float64, analysis []byte) error {
	_, ts := s.timestamp()
	var raw any
	if len(analysis) > 0 {
		raw = string(analysis)
	}
	res, err := sqlitex.Exec(ctx, s.db,
		`UPDATE content SET quality_score = ?, ai_analysis_json = ?, updated_at = ? WHERE id = ?`,
		score, raw, ts, id)
	if err != nil {
		return fmt.Errorf("set content quality: %w", err)
	}
	return requireAffected(res, "content")
}

// DeleteContent removes an item.
func (s *Store) DeleteContent(ctx context.Context, id string) error {
	res, err := sqlitex.Exec(ctx, s.db, `DELETE FROM content WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	return requireAffected(res, "content")
}

// ContentFilter narrows ListContent. Zero values match everything.
type ContentFilter struct {
	UserID      string
	Language    string
	ContentType string
	Status      ContentStatus
	Limit       int
}

// ListContent returns matching items, newest first.
func (s *Store) ListContent(ctx context.Context, filter ContentFilter) ([]ContentItem, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	add("user_id", filter.UserID)
	add("language", filter.Language)
	add("content_type", filter.ContentType)
	add("status", string(filter.Status))

	query := `SELECT ` + contentColumns + ` FROM content`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY rowid DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	return collectContent(rows)
}

// PublishedContent returns published items in one language in insertion order.
func (s *Store) PublishedContent(ctx context.Context, language string) ([]ContentItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM content WHERE status = ? AND language = ? ORDER BY rowid`,
		string(ContentPublished), language)
	if err != nil {
		return nil, fmt.Errorf("published content: %w", err)
	}
	return collectContent(rows)
}

// ContentStats summarises published content.
type ContentStats struct {
	Total      int            `json:"total"`
	ByLanguage map[string]int `json:"byLanguage"`
	ByType     map[string]int `json:"byType"`
	AvgQuality float64        `json:"avgQuality"`
}

// PublishedStats aggregates counts and mean quality over published content.
func (s *Store) PublishedStats(ctx context.Context) (ContentStats, error) {
	stats := ContentStats{ByLanguage: map[string]int{}, ByType: map[string]int{}}
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(quality_score) FROM content WHERE status = ?`, string(ContentPublished),
	).Scan(&stats.Total, &avg); err != nil {
		return stats, fmt.Errorf("content totals: %w", err)
	}
	stats.AvgQuality = avg.Float64

	for column, dest := range map[string]map[string]int{"language": stats.ByLanguage, "content_type": stats.ByType} {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+column+`, COUNT(*) FROM content WHERE status = ? GROUP BY `+column, string(ContentPublished))
		if err != nil {
			return stats, fmt.Errorf("content counts by %s: %w", column, err)
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return stats, err
			}
			dest[key] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return stats, err
		}
		rows.Close()
	}
	return stats, nil
}

// ErrRecordNotFound is returned by writes that matched no row.
var ErrRecordNotFound = errors.New("record not found")

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrRecordNotFound)
	}
	return nil
}
