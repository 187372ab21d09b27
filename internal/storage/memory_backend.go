package storage

import (
	"context"
	"sync"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// MemoryBackend is a map-backed property store.
type MemoryBackend struct {
	mu    sync.RWMutex
	props map[int64]map[int16]graph.Value
}

// NewMemoryBackend creates a new in-memory property store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{props: make(map[int64]map[int16]graph.Value)}
}

// Initialize implements Backend. The path is ignored.
func (m *MemoryBackend) Initialize(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.props == nil {
		m.props = make(map[int64]map[int16]graph.Value)
	}
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props = nil
	return nil
}

// Set implements graph.PropertyStore.
func (m *MemoryBackend) Set(ctx context.Context, id int64, props map[int16]graph.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[id] = copyProperties(props)
	return nil
}

// SetMany implements Backend.
func (m *MemoryBackend) SetMany(ctx context.Context, entries map[int64]map[int16]graph.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, props := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.props[id] = copyProperties(props)
	}
	return nil
}

// Get implements graph.PropertyStore.
func (m *MemoryBackend) Get(id int64, key int16) (graph.Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.props[id][key]
	return v, ok
}

// Properties implements graph.PropertyStore.
func (m *MemoryBackend) Properties(id int64) map[int16]graph.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyProperties(m.props[id])
}

// Delete implements graph.PropertyStore.
func (m *MemoryBackend) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.props, id)
	return nil
}

// Len implements graph.PropertyStore.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.props)
}
