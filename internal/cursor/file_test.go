package cursor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_LoadMissingFile(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "sync_state.json"))

	_, ok, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileBackend_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	b := NewFileBackend(path)

	cursor := time.Date(2024, 3, 10, 12, 0, 0, 123000000, time.UTC)
	require.NoError(t, b.Save(context.Background(), cursor))

	got, ok, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, cursor.Equal(got))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lastSyncTime":"2024-03-10T12:00:00.123Z"}`, string(data))
}

func TestFileBackend_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(filepath.Join(dir, "sync_state.json"))

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Save(context.Background(), time.Now()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileBackend_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, _, err := NewFileBackend(path).Load(context.Background())
	assert.Error(t, err)
}

func TestFileBackend_ReadsLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "lastSyncTime": "2024-03-09T23:59:59.000Z"
}`), 0o644))

	got, ok, err := NewFileBackend(path).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC), got.UTC())
}

func TestFileBackend_SaveToMissingDirectoryFails(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "missing", "sync_state.json"))

	assert.Error(t, b.Save(context.Background(), time.Now()))
}
