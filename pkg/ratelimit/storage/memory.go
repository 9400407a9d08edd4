package storage

import (
	"context"
	"errors"
	"sync"
)

// errInjectedFailure is returned by the failure test hook.
var errInjectedFailure = errors.New("injected storage failure")

// MemoryBackend implements Backend with an in-process map. Used in
// tests and in deployments that accept losing bucket state on restart.
type MemoryBackend struct {
	mu       sync.RWMutex
	states   map[stateKey]*BucketState
	failSave bool
}

type stateKey struct {
	scope string
	key   string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		states: make(map[stateKey]*BucketState),
	}
}

// SetFailSaves toggles injected save failures for tests.
func (m *MemoryBackend) SetFailSaves(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = fail
}

// SaveStates stores copies of the given states.
func (m *MemoryBackend) SaveStates(_ context.Context, states []*BucketState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSave {
		return errInjectedFailure
	}

	for _, s := range states {
		cp := *s
		m.states[stateKey{s.Scope, s.Key}] = &cp
	}
	return nil
}

// LoadStates returns copies of all stored states.
func (m *MemoryBackend) LoadStates(_ context.Context) ([]*BucketState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*BucketState, 0, len(m.states))
	for _, s := range m.states {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteState removes one stored state.
func (m *MemoryBackend) DeleteState(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, stateKey{scope, key})
	return nil
}

// Close is a no-op for the memory backend.
func (m *MemoryBackend) Close() error {
	return nil
}
