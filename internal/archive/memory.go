package archive

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cortex-sre/cortex/pkg/domain"
)

// Memory implements Store in process memory. Safe for concurrent use.
// Records expire lazily after the configured TTL; a zero TTL keeps them
// until deleted.
type Memory struct {
	mu   sync.RWMutex
	data map[string]*Record
	ttl  time.Duration
	now  func() time.Time
}

// MemoryOption configures the in-memory archive.
type MemoryOption func(*Memory)

// WithMemoryTTL sets record expiration.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an in-memory archive.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		data: make(map[string]*Record),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) expired(rec *Record) bool {
	return m.ttl > 0 && m.now().Sub(rec.ArchivedAt) > m.ttl
}

// Save stores a copy of the record.
func (m *Memory) Save(ctx context.Context, rec *Record) error {
	cp := *rec
	cp.Events = append([]json.RawMessage(nil), rec.Events...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[rec.WorkflowID] = &cp
	return nil
}

// Load returns a copy so callers cannot mutate stored state.
func (m *Memory) Load(ctx context.Context, workflowID string) (*Record, error) {
	m.mu.RLock()
	rec, ok := m.data[workflowID]
	m.mu.RUnlock()

	if !ok {
		return nil, domain.ErrUnknownWorkflow
	}
	if m.expired(rec) {
		m.mu.Lock()
		delete(m.data, workflowID)
		m.mu.Unlock()
		return nil, domain.ErrUnknownWorkflow
	}

	cp := *rec
	cp.Events = append([]json.RawMessage(nil), rec.Events...)
	return &cp, nil
}

// List returns unexpired workflow IDs and prunes the rest.
func (m *Memory) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.data))
	for id, rec := range m.data {
		if m.expired(rec) {
			delete(m.data, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes a record.
func (m *Memory) Delete(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, workflowID)
	return nil
}
