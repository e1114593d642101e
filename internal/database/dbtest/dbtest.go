// Package dbtest opens throwaway in-memory stores for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"sitehive/internal/database"

	_ "modernc.org/sqlite"
)

// NewStore returns an initialised store backed by a private in-memory
// database. The connection is closed when the test finishes.
func NewStore(t testing.TB) *database.Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = db.Close() })

	store, err := database.New(db)
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	return store
}
