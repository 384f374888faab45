package storage

import (
	"fmt"
	"path/filepath"

	"multichat-backend/internal/config"
)

// New builds and initialises the backend named by cfg.Type.
func New(cfg config.StorageConfig) (Storage, error) {
	var s Storage
	switch cfg.Type {
	case "memory":
		s = NewMemoryStorage()
	case "disk":
		s = NewDiskStorage(cfg.DataDir, cfg.CacheSize)
	case "sqlite":
		s = NewSQLiteStorage(filepath.Join(cfg.DataDir, "conversations.db"))
	case "postgres":
		s = NewPostgresStorage(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", ErrStorageInit, cfg.Type)
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}
