package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bhasha/internal/config"
	"bhasha/internal/sqlitex"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// Store is the document store backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the document store configured by cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the document store at an explicit location.
func OpenPath(path string) (*Store, error) {
	db, err := sqlitex.Open(path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := sqlitex.InitSchema(context.Background(), db, schemaSQL, schemaVersion, "document store"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(sqlitex.EnsureContext(ctx))
}

func (s *Store) timestamp() (time.Time, string) {
	now := s.now()
	return now, sqlitex.FormatTime(now)
}

func newID() string {
	return uuid.NewString()
}

type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
