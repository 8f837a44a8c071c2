// Package assignment implements the assignment store (spec.md §3, §6):
// the exactly-one-node invariant for any migrated agent, keyed by both
// agentID and nodeID. Grounded on the teacher's pkg/registry.BaseRegistry
// map+mutex shape, persisted through store.KV for durability.
package assignment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flockmesh/flock/internal/store"
)

// Assignment records which node currently hosts an agent's portable
// state, and where on that node (spec.md §3).
type Assignment struct {
	AgentID      string    `json:"agentId"`
	NodeID       string    `json:"nodeId"`
	PortablePath string    `json:"portablePath"`
	AssignedAt   time.Time `json:"assignedAt"`
}

const keyPrefix = "assignment/"

// Store is the assignment store.
type Store struct {
	kv store.KV

	mu   sync.RWMutex
	byID map[string]Assignment // agentID -> current assignment
}

// Open builds a Store backed by kv, rebuilding the in-memory index.
func Open(ctx context.Context, kv store.KV) (*Store, error) {
	s := &Store{kv: kv, byID: make(map[string]Assignment)}
	raw, err := kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading assignments: %w", err)
	}
	for _, v := range raw {
		var a Assignment
		if err := json.Unmarshal(v, &a); err != nil {
			continue
		}
		s.byID[a.AgentID] = a
	}
	return s, nil
}

// Assign records (or overwrites) the node hosting agentID, enforcing
// the exactly-one-node invariant by replacement rather than append.
func (s *Store) Assign(ctx context.Context, agentID, nodeID, portablePath string) error {
	a := Assignment{AgentID: agentID, NodeID: nodeID, PortablePath: portablePath, AssignedAt: time.Now()}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshalling assignment: %w", err)
	}
	if err := s.kv.Put(ctx, keyPrefix+agentID, data); err != nil {
		return fmt.Errorf("persisting assignment: %w", err)
	}

	s.mu.Lock()
	s.byID[agentID] = a
	s.mu.Unlock()
	return nil
}

// Get returns the current assignment for agentID.
func (s *Store) Get(agentID string) (Assignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[agentID]
	return a, ok
}

// ByNode returns every assignment currently pointing at nodeID.
func (s *Store) ByNode(nodeID string) []Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Assignment
	for _, a := range s.byID {
		if a.NodeID == nodeID {
			out = append(out, a)
		}
	}
	return out
}
