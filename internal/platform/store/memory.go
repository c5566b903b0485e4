package store

import (
	"context"
	"sync"

	"github.com/dontdude/imgcap/internal/domain"
)

// Memory is a process-local result store, useful for development and tests.
type Memory struct {
	mu      sync.RWMutex
	results map[string][]byte
}

var _ domain.ResultStore = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{results: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[id] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.results[id]
	if !ok {
		return nil, domain.ErrResultNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Close() error { return nil }
