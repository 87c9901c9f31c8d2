// Package postgres opens the SQL backend on Postgres through the pgx
// database/sql driver and applies the class DDL on startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"unitofwork/internal/infra/persistence/sqlstore"
	"unitofwork/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when NewStore receives an empty DSN.
	DefaultDSN = "postgres://localhost/unitofwork?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a sqlstore.Store bound to a Postgres database.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres-backed store using dsn (falling back to
// DefaultDSN), checks connectivity and ensures the tables for classes exist.
func NewStore(ctx context.Context, dsn string, classes ...*domain.Class) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstore.New(db, sqlstore.Postgres, classes...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := inner.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
