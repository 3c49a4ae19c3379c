package hwm

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps HWM state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]memoryEntry
}

type memoryEntry struct {
	id    Identity
	state State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]memoryEntry)}
}

// Load returns the stored state or nil.
func (m *MemoryStore) Load(_ context.Context, id Identity) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.states[id.QualifiedName()]
	if !ok {
		return nil, nil
	}
	s := e.state
	return &s, nil
}

// Save replaces the stored state.
func (m *MemoryStore) Save(_ context.Context, id Identity, state State) error {
	if err := id.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id.QualifiedName()] = memoryEntry{id: id, state: state}
	return nil
}

// Identities returns the stored identities ordered by qualified name.
func (m *MemoryStore) Identities() []Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]Identity, 0, len(m.states))
	for _, e := range m.states {
		ids = append(ids, e.id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].QualifiedName() < ids[j].QualifiedName() })
	return ids
}
