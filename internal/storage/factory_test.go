package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multichat-backend/internal/config"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()

	s, err := New(config.StorageConfig{Type: "disk", DataDir: dir, CacheSize: 4})
	require.NoError(t, err)
	assert.IsType(t, &DiskStorage{}, s)
	require.NoError(t, s.Close())

	s, err = New(config.StorageConfig{Type: "sqlite", DataDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &SQLStorage{}, s)
	assert.FileExists(t, filepath.Join(dir, "conversations.db"))
	require.NoError(t, s.Close())

	_, err = New(config.StorageConfig{Type: "redis"})
	assert.ErrorIs(t, err, ErrStorageInit)
}
