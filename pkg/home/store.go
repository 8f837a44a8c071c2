package home

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flockmesh/flock/internal/store"
)

const keyPrefix = "home/"

// Store is the durable registry of Home records, keyed by agentID. The
// migration engine is the primary caller: every phase side effect that
// touches a home goes through Store.Transition/ForceTransition so the
// change is persisted atomically with the in-memory state.
type Store struct {
	kv store.KV

	mu      sync.RWMutex
	byAgent map[string]*Home
}

// Open builds a Store backed by kv, replaying persisted homes.
func Open(ctx context.Context, kv store.KV) (*Store, error) {
	s := &Store{kv: kv, byAgent: make(map[string]*Home)}
	raw, err := kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading homes: %w", err)
	}
	for _, v := range raw {
		var h Home
		if err := json.Unmarshal(v, &h); err != nil {
			continue
		}
		s.byAgent[h.AgentID] = &h
	}
	return s, nil
}

// Create registers a new Home in ACTIVE status for agentID on nodeID.
func (s *Store) Create(ctx context.Context, agentID, nodeID string) (*Home, error) {
	h := New(agentID, nodeID)
	if err := s.persist(ctx, h); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.byAgent[agentID] = h
	s.mu.Unlock()
	return h, nil
}

// Get returns the current Home for agentID, if any.
func (s *Store) Get(agentID string) (Home, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.byAgent[agentID]
	if !ok {
		return Home{}, false
	}
	return *h, true
}

// Transition validates and applies a status change, persisting the result.
func (s *Store) Transition(ctx context.Context, agentID string, to Status) (Home, error) {
	s.mu.Lock()
	h, ok := s.byAgent[agentID]
	if !ok {
		s.mu.Unlock()
		return Home{}, fmt.Errorf("home: no home for agent %q", agentID)
	}
	if err := h.Transition(to); err != nil {
		s.mu.Unlock()
		return Home{}, err
	}
	out := *h
	s.mu.Unlock()

	return out, s.persist(ctx, &out)
}

// ForceTransition applies a status change unconditionally (rollback use
// only, per Home.ForceTransition's contract), persisting the result.
func (s *Store) ForceTransition(ctx context.Context, agentID string, to Status) (Home, error) {
	s.mu.Lock()
	h, ok := s.byAgent[agentID]
	if !ok {
		s.mu.Unlock()
		return Home{}, fmt.Errorf("home: no home for agent %q", agentID)
	}
	h.ForceTransition(to)
	out := *h
	s.mu.Unlock()

	return out, s.persist(ctx, &out)
}

func (s *Store) persist(ctx context.Context, h *Home) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshalling home: %w", err)
	}
	return s.kv.Put(ctx, keyPrefix+h.AgentID, data)
}
