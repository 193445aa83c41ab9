// Package sqlite implements the Local store (spec §4.10): a single-node
// SQLite-backed Trace/Metrics Writer, History Manager persistence, Model
// Catalog override persistence, and encrypted provider-credential
// persistence, over the six tables of the persisted state layout (spec §6).
//
// It uses the pure-Go modernc.org/sqlite driver (no cgo), the same driver
// and sql.Open idiom haasonsaas-nexus uses for its own embedded SQLite
// store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store wraps a *sql.DB opened against one SQLite database file (or
// "file::memory:?cache=shared" for tests) and implements the writer
// capabilities the execution pipeline and History Manager depend on.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the schema exists. path may be a filesystem path or a DSN understood by
// modernc.org/sqlite (e.g. "file::memory:?cache=shared" for tests).
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite allows only one writer at a time; a single shared connection
	// avoids SQLITE_BUSY under concurrent writers from the pipeline.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
