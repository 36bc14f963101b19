package handler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeAgedFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	if age > 0 {
		old := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, old, old))
	}
	return path
}

func cleanupResult(t *testing.T, raw json.RawMessage) map[string]int64 {
	t.Helper()

	var out map[string]int64
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestFileCleanupRemovesAgedFiles(t *testing.T) {
	base := t.TempDir()
	h := NewFileCleanupHandler(zaptest.NewLogger(t), base)

	aged := writeAgedFile(t, base, "old.log", 48*time.Hour)
	fresh := writeAgedFile(t, base, "fresh.log", 0)

	result, err := h.Execute(context.Background(), json.RawMessage(
		`{"dir":".","pattern":"*.log","max_age_hours":24}`))
	require.NoError(t, err)

	out := cleanupResult(t, result)
	assert.Equal(t, int64(1), out["removed"])
	assert.Equal(t, int64(1), out["freed_bytes"])

	_, err = os.Stat(aged)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestFileCleanupPatternFilter(t *testing.T) {
	base := t.TempDir()
	h := NewFileCleanupHandler(zaptest.NewLogger(t), base)

	kept := writeAgedFile(t, base, "data.log", 48*time.Hour)
	removed := writeAgedFile(t, base, "scratch.tmp", 48*time.Hour)

	result, err := h.Execute(context.Background(), json.RawMessage(`{"dir":".","pattern":"*.tmp"}`))
	require.NoError(t, err)

	out := cleanupResult(t, result)
	assert.Equal(t, int64(1), out["removed"])

	_, err = os.Stat(removed)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(kept)
	assert.NoError(t, err)
}

func TestFileCleanupRecursive(t *testing.T) {
	base := t.TempDir()
	h := NewFileCleanupHandler(zaptest.NewLogger(t), base)

	sub := filepath.Join(base, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeAgedFile(t, base, "top.log", 48*time.Hour)
	nested := writeAgedFile(t, sub, "nested.log", 48*time.Hour)

	result, err := h.Execute(context.Background(), json.RawMessage(`{"dir":".","pattern":"*.log"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleanupResult(t, result)["removed"])

	_, err = os.Stat(nested)
	assert.NoError(t, err)

	result, err = h.Execute(context.Background(), json.RawMessage(
		`{"dir":".","pattern":"*.log","recursive":true}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleanupResult(t, result)["removed"])

	_, err = os.Stat(nested)
	assert.True(t, os.IsNotExist(err))
}

func TestFileCleanupRejectsEscape(t *testing.T) {
	base := t.TempDir()
	h := NewFileCleanupHandler(zaptest.NewLogger(t), base)

	_, err := h.Execute(context.Background(), json.RawMessage(`{"dir":"../outside"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dir must be within base directory")
}

func TestFileCleanupInvalidPattern(t *testing.T) {
	base := t.TempDir()
	h := NewFileCleanupHandler(zaptest.NewLogger(t), base)

	_, err := h.Execute(context.Background(), json.RawMessage(`{"dir":".","pattern":"["}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern")
}
