package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multichat-backend/internal/config"
)

func TestOpen(t *testing.T) {
	s, err := Open(config.SettingsConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(config.SettingsConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "nested", "settings.db")})
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(config.SettingsConfig{Type: "etcd"})
	assert.ErrorIs(t, err, ErrStoreInit)
}
