package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bhasha/internal/sqlitex"
)

const connectionColumns = "id, user_id, name, api_endpoint, status_endpoint, auth_type, api_key, data_format, model_identifier, is_active, test_status, last_tested_at, created_at, updated_at"

func scanConnection(row scanner) (*Connection, error) {
	var (
		c                               Connection
		statusEndpoint, apiKey, modelID sql.NullString
		testStatus, testedRaw           sql.NullString
		active                          int
		createdRaw, updatedRaw          string
	)
	if err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.APIEndpoint, &statusEndpoint, &c.AuthType, &apiKey,
		&c.DataFormat, &modelID, &active, &testStatus, &testedRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	c.StatusEndpoint = statusEndpoint.String
	c.APIKey = apiKey.String
	c.ModelIdentifier = modelID.String
	c.Active = active != 0
	c.TestStatus = testStatus.String
	c.LastTestedAt = sqlitex.ParseTimePtr(testedRaw.String)
	if t, err := sqlitex.ParseTime(createdRaw); err == nil {
		c.CreatedAt = t
	}
	if t, err := sqlitex.ParseTime(updatedRaw); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

// InsertConnection persists a new active connection.
func (s *Store) InsertConnection(ctx context.Context, c *Connection) error {
	now, ts := s.timestamp()
	if c.ID == "" {
		c.ID = newID()
	}
	c.Active = true
	c.CreatedAt = now
	c.UpdatedAt = now
	if _, err := sqlitex.Exec(ctx, s.db,
		`INSERT INTO llm_connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.APIEndpoint, sqlitex.NullableString(c.StatusEndpoint), c.AuthType,
		sqlitex.NullableString(c.APIKey), c.DataFormat, sqlitex.NullableString(c.ModelIdentifier),
		sqlitex.BoolToInt(c.Active), nil, nil, ts, ts,
	); err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// GetConnection returns nil, nil when the connection does not exist.
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM llm_connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// ListConnections returns a user's connections in creation order.
func (s *Store) ListConnections(ctx context.Context, userID string) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+connectionColumns+` FROM llm_connections WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()
	var out []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetConnectionActive toggles whether a connection can be used.
func (s *Store) SetConnectionActive(ctx context.Context, id string, active bool) error {
	_, ts := s.timestamp()
	res, err := sqlitex.Exec(ctx, s.db, `UPDATE llm_connections SET is_active = ?, updated_at = ? WHERE id = ?`,
		sqlitex.BoolToInt(active), ts, id)
	if err != nil {
		return fmt.Errorf("set connection active: %w", err)
	}
	return requireAffected(res, "connection")
}

// RecordConnectionTest stores the outcome of a reachability test.
func (s *Store) RecordConnectionTest(ctx context.Context, id, status string) error {
	_, ts := s.timestamp()
	res, err := sqlitex.Exec(ctx, s.db, `UPDATE llm_connections SET test_status = ?, last_tested_at = ?, updated_at = ? WHERE id = ?`,
		status, ts, ts, id)
	if err != nil {
		return fmt.Errorf("record connection test: %w", err)
	}
	return requireAffected(res, "connection")
}

// DeleteConnection removes a connection.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	res, err := sqlitex.Exec(ctx, s.db, `DELETE FROM llm_connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return requireAffected(res, "connection")
}
