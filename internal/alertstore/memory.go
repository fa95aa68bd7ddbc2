package alertstore

import (
	"encoding/json"
	"errors"
	"sync"
)

// MemoryStorage is a Storage backed by an in-process map. Used in tests and
// as the fallback backend when no database is configured.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]json.RawMessage

	// FailOps makes every Get/Set fail while true — for exercising the
	// storage-fault path in tests.
	FailOps bool

	// FailWrites makes Set fail while Get keeps serving the last written
	// value, the shape of a quota-exceeded backend.
	FailWrites bool
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]json.RawMessage)}
}

func (m *MemoryStorage) Get(key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOps {
		return false, errors.New("storage unavailable")
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryStorage) Set(key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOps {
		return errors.New("storage unavailable")
	}
	if m.FailWrites {
		return errors.New("storage quota exceeded")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}
