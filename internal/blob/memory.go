package blob

import (
	"context"
	"sync"
)

// Memory is an in-process Storage used by tests and local development.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	types map[string]string
}

func NewMemory() *Memory {
	return &Memory{blobs: map[string][]byte{}, types: map[string]string{}}
}

func (m *Memory) Save(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[key] = buf
	m.types[key] = contentType
	return nil
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	delete(m.types, key)
	return nil
}

// ContentType reports the stored content type, empty when absent.
func (m *Memory) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[key]
}
