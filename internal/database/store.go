package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so query helpers run the same
// way inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the single-statement persistence operations. Obtain one bound
// to a transaction through Store.InTx.
type Queries struct {
	db dbtx
}

// Store wraps a SQLite connection and exposes helpers to manage sitehive
// entities. The embedded Queries run outside any explicit transaction.
type Store struct {
	*Queries
	db *sql.DB
}

// New creates a Store and enables SQLite foreign keys on the supplied
// connection. Call Init on the returned store to install the schema.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Enable WAL mode for concurrent reads with writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout to retry instead of immediate failure
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &Store{Queries: &Queries{db: db}, db: db}, nil
}

// Init installs the database schema. It is safe to call multiple times; every
// statement uses IF NOT EXISTS guards.
func (s *Store) Init(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isIgnorableSchemaError(err) {
				continue
			}
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// InTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks the connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying database handle for read-only situations. Mutating
// callers should prefer Store helpers to keep the schema invariants intact.
func (s *Store) DB() *sql.DB {
	return s.db
}

func isIgnorableSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "duplicate column name") {
		return true
	}
	return false
}
