package store

import (
	"context"
	"database/sql"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Store provides access to all storage repositories backed by a single
// DuckDB connection.
type Store struct {
	db    *sql.DB
	audit *AuditStore
}

// NewDB opens a DuckDB database at path. Pass ":memory:" for an ephemeral,
// in-process database, used by tests and by dispatchd when no data folder is
// configured.
func NewDB(path string) (*sql.DB, error) {
	return sql.Open("duckdb", path)
}

// NewStore wraps db with the store's repositories.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		audit: NewAuditStore(db),
	}
}

// Audit returns the dispatch-operation audit log repository.
func (s *Store) Audit() *AuditStore {
	return s.audit
}

// Migrate creates the schema if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, queryCreateAuditTable)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
