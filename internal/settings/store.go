package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"multichat-backend/internal/config"
	"multichat-backend/pkg/logger"
)

// Known keys. Anything else is accepted but not read by the orchestrator.
const (
	KeyConcurrentRequests = "concurrentRequests"
	KeyRetryAttempts      = "retryAttempts"
	KeyRequestTimeout     = "requestTimeout"
	KeyBaseURL            = "baseUrl"
	KeyAPIKey             = "apiKey"
	KeyOrganization       = "organization"
	KeyModel              = "model"
	KeyTemperature        = "temperature"
	KeyMaxTokens          = "maxTokens"
	KeySystemPrompt       = "systemPrompt"
)

var (
	ErrInvalidKey = errors.New("invalid settings key")
	ErrStoreInit  = errors.New("settings store initialization failed")
)

// Store is a persistent key/value settings store. Values are JSON encoded.
type Store interface {
	// Get decodes the value stored under key into dst and reports whether
	// the key was present.
	Get(key string, dst interface{}) (bool, error)
	Set(key string, value interface{}) error
	Delete(key string) error
	Keys() ([]string, error)
	Close() error
}

func GetInt(s Store, key string, def int) int {
	var v int
	if !lookup(s, key, &v) {
		return def
	}
	return v
}

func GetFloat(s Store, key string, def float32) float32 {
	var v float32
	if !lookup(s, key, &v) {
		return def
	}
	return v
}

func GetString(s Store, key string, def string) string {
	var v string
	if !lookup(s, key, &v) {
		return def
	}
	return v
}

func lookup(s Store, key string, dst interface{}) bool {
	ok, err := s.Get(key, dst)
	if err != nil {
		logger.Warnf("settings: ignoring unreadable value for %s: %v", key, err)
		return false
	}
	return ok
}

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string, dst interface{}) (bool, error) {
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) Set(key string, value interface{}) error {
	if key == "" {
		return ErrInvalidKey
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	m.mu.Lock()
	m.values[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Open returns the store named by cfg.Type.
func Open(cfg config.SettingsConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "bolt":
		store, err := NewBoltStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("%w: unknown settings type %q", ErrStoreInit, cfg.Type)
}
