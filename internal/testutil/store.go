package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/schedd/internal/storage"
)

// OpenStore creates a SQLite-backed schedule store in a per-test temp dir.
func OpenStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()

	store, err := storage.NewSQLiteStore(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "schedd.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
