package store

import (
	"context"
	"maps"
	"sync"
)

// Memory is a process-local KV, used for dry runs and tests.
type Memory struct {
	mu    sync.RWMutex
	props map[string]string
}

func NewMemory() *Memory {
	return &Memory{props: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.props[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[key] = value
	return nil
}

func (m *Memory) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.props)
	return nil
}

func (m *Memory) All(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.props), nil
}

func (m *Memory) Close() error {
	return nil
}
