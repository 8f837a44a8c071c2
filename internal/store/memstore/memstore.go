// Package memstore is the in-memory store.KV used in tests and the
// default dev profile (spec.md §6: "an in-memory implementation for
// tests"). Grounded on the teacher's pkg/registry.BaseRegistry map+mutex
// shape, generalized from a typed map to raw bytes so it satisfies the
// same store.KV contract as the durable sqlite-backed variant.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/flockmesh/flock/internal/store"
)

type memKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty in-memory KV store.
func New() store.KV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) List(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

func (m *memKV) Close() error { return nil }
