// Package sqlite opens the SQL backend on a local SQLite file using the pure
// Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"unitofwork/internal/infra/persistence/sqlstore"
	"unitofwork/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultPath is used when NewStore receives an empty path.
const DefaultPath = "unitofwork.db"

// Store is a sqlstore.Store bound to one SQLite file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating if needed) the database at path and ensures the
// tables for classes exist.
func NewStore(ctx context.Context, path string, classes ...*domain.Class) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	inner, err := sqlstore.New(db, sqlstore.SQLite, classes...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := inner.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
