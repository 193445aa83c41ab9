package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStore opens a private in-memory database, isolated per test via a
// unique cache name (shared-cache mode keeps it alive across the single
// connection but is harmless test-to-test since each name is distinct).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenEnsuresSchema(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"models", "spans", "metrics", "threads", "messages", "providers"} {
		var name string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		require.Equal(t, table, name)
	}
}
