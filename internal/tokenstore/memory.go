package tokenstore

import (
	"context"
	"maps"
	"sync"
)

// MemoryBackend holds the record in process memory. Used by tests and by
// callers that do not want tokens to outlive the process.
type MemoryBackend struct {
	mu  sync.Mutex
	rec Record

	// LoadErr, when set, is returned by Load to simulate unavailable storage.
	LoadErr error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rec: Record{}}
}

func (m *MemoryBackend) Load(ctx context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LoadErr != nil {
		return nil, m.LoadErr
	}

	// Clone to avoid external modifications
	return maps.Clone(m.rec), nil
}

func (m *MemoryBackend) Save(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rec = maps.Clone(rec)
	if m.rec == nil {
		m.rec = Record{}
	}
	return nil
}
