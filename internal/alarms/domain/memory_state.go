package alarms

import (
	"context"
	"sync"
)

// MemoryStateStore keeps edge state in process. The agent uses it; state is
// lost on restart, so a condition still present re-raises once.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStateStore constructs an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (m *MemoryStateStore) Get(_ context.Context, deviceID, code string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[deviceID+"|"+code]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *MemoryStateStore) Upsert(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.DeviceID+"|"+state.Code] = *state
	return nil
}

func (m *MemoryStateStore) Clear(_ context.Context, deviceID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, deviceID+"|"+code)
	return nil
}
