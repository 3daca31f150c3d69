package lookup

import (
	"context"
	"sync"

	"github.com/sells-group/capture-cli/internal/model"
)

// MemoryBackend is an in-process Backend for tests and dry runs.
type MemoryBackend struct {
	mu     sync.Mutex
	next   int64
	ids    map[string]int64
	Writes int
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{ids: make(map[string]int64)}
}

func (m *MemoryBackend) ensure(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if id, ok := m.ids[key]; ok {
		return id
	}
	m.next++
	m.ids[key] = m.next
	return m.next
}

// EnsureAgency implements Backend.
func (m *MemoryBackend) EnsureAgency(_ context.Context, key model.AgencyKey) (int64, error) {
	return m.ensure("a:" + key.String()), nil
}

// EnsureNoticeType implements Backend.
func (m *MemoryBackend) EnsureNoticeType(_ context.Context, name string) (int64, error) {
	return m.ensure("n:" + name), nil
}

// EnsureSetAside implements Backend.
func (m *MemoryBackend) EnsureSetAside(_ context.Context, code string) (int64, error) {
	return m.ensure("s:" + code), nil
}

// Len returns the number of distinct rows.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}
