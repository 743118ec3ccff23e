package store

import (
	"context"
	"encoding/json"
	"sync"
)

var _ Store = (*Memory)(nil)

// Memory is a process-local Store.
type Memory struct {
	entries map[string][]byte
	lock    sync.RWMutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, v any) (bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	b, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (m *Memory) Set(_ context.Context, key string, v any) error {
	if key == "" {
		return ErrInvalidKey
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	m.entries[key] = b
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.entries, key)
	return nil
}

// Keys returns the stored keys in no particular order.
func (m *Memory) Keys() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}
