package store

import (
	"context"
	"fmt"
	"sync"
)

// MemorySessions is a process-local SessionStore, used when no Redis
// address is configured. Entries never expire.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]SessionInfo
	stats    map[string]*Stats
}

// NewMemorySessions creates an empty store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		sessions: make(map[string]SessionInfo),
		stats:    make(map[string]*Stats),
	}
}

func (m *MemorySessions) Register(_ context.Context, info SessionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[info.ID] = info
	return nil
}

// Touch is a no-op; entries never expire.
func (m *MemorySessions) Touch(context.Context, string) error { return nil }

// Remove forgets the session but keeps its counters.
func (m *MemorySessions) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Incr adds n to one of the Field counters.
func (m *MemorySessions) Incr(_ context.Context, id, field string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[id]
	if !ok {
		st = &Stats{}
		m.stats[id] = st
	}
	switch field {
	case FieldRxBytes:
		st.RxBytes += n
	case FieldTxBytes:
		st.TxBytes += n
	case FieldFrames:
		st.Frames += n
	case FieldInvalid:
		st.Invalid += n
	default:
		return fmt.Errorf("store: unknown counter %q", field)
	}
	return nil
}

// Stats returns ErrNoStats until a counter has been incremented.
func (m *MemorySessions) Stats(_ context.Context, id string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[id]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrNoStats, id)
	}
	return *st, nil
}

func (m *MemorySessions) ResetStats(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stats, id)
	return nil
}

// Registered reports whether id is currently registered.
func (m *MemorySessions) Registered(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}
