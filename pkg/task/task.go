// Package task implements the async task store (spec.md §3, §4.6): the
// per-agent request/response lifecycle record, tracked
// submitted -> working -> completed/failed/canceled. Grounded on the
// teacher's pkg/task/task.go Task/Service shape, adapted from a
// single-task-service-per-session model to Flock's cross-agent
// from/to task records.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flockmesh/flock/internal/store"
	"github.com/flockmesh/flock/pkg/a2a"
)

// MessageType classifies the structured metadata a message carried
// (spec.md §4.6's FlockTaskMetadata.flockType).
type MessageType string

const (
	MessageTypeSysadminRequest MessageType = "sysadmin-request"
	MessageTypeWorkerTask      MessageType = "worker-task"
	MessageTypeReview          MessageType = "review"
	MessageTypeSystemOp        MessageType = "system-op"
)

// Record is one task's full lifecycle state (spec.md §3).
type Record struct {
	TaskID          string        `json:"taskId"`
	ContextID       string        `json:"contextId"`
	FromAgentID     string        `json:"fromAgentId"`
	ToAgentID       string        `json:"toAgentId"`
	State           a2a.TaskState `json:"state"`
	MessageType     MessageType   `json:"messageType,omitempty"`
	Summary         string        `json:"summary,omitempty"`
	Payload         string        `json:"payload,omitempty"`
	ResponseText    string        `json:"responseText,omitempty"`
	ResponsePayload string        `json:"responsePayload,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
}

func (r Record) clone() Record {
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

// ErrTerminal is returned when a caller tries to mutate a task that has
// already reached a terminal state (spec.md §8 property 7).
var ErrTerminal = fmt.Errorf("task: already in terminal state")

// ErrNotFound is returned for lookups of unknown task IDs.
var ErrNotFound = fmt.Errorf("task: not found")

const keyPrefix = "task/"

// Store tracks task records keyed by taskID (spec.md §6). No secondary
// indices by fromAgentID, toAgentID or state are kept: ListByAgent scans
// every record.
type Store struct {
	kv store.KV

	mu   sync.RWMutex
	byID map[string]Record
}

// Open builds a Store backed by kv, replaying any persisted records.
func Open(ctx context.Context, kv store.KV) (*Store, error) {
	s := &Store{kv: kv, byID: make(map[string]Record)}
	raw, err := kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}
	for _, v := range raw {
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			continue
		}
		s.byID[r.TaskID] = r
	}
	return s, nil
}

// Create inserts a new task record in the submitted state.
func (s *Store) Create(ctx context.Context, fromAgentID, toAgentID, contextID string, msgType MessageType, summary, payload string) (Record, error) {
	now := time.Now()
	r := Record{
		TaskID:      uuid.New().String(),
		ContextID:   contextID,
		FromAgentID: fromAgentID,
		ToAgentID:   toAgentID,
		State:       a2a.TaskStateSubmitted,
		MessageType: msgType,
		Summary:     summary,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.persist(ctx, r); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	s.byID[r.TaskID] = r
	s.mu.Unlock()

	return r, nil
}

// Get returns a defensive copy of a task record.
func (s *Store) Get(taskID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[taskID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r.clone(), nil
}

// UpdateState transitions a task's state, enforcing monotonic updatedAt
// and terminal immutability (spec.md §8 property 7). responseText and
// responsePayload are optional and applied whenever non-empty, whatever
// the new state.
func (s *Store) UpdateState(ctx context.Context, taskID string, newState a2a.TaskState, responseText, responsePayload string) (Record, error) {
	s.mu.Lock()
	r, ok := s.byID[taskID]
	if !ok {
		s.mu.Unlock()
		return Record{}, ErrNotFound
	}
	if r.State.IsTerminal() {
		s.mu.Unlock()
		return Record{}, ErrTerminal
	}

	r.State = newState
	if responseText != "" {
		r.ResponseText = responseText
	}
	if responsePayload != "" {
		r.ResponsePayload = responsePayload
	}
	r.UpdatedAt = time.Now()
	if newState.IsTerminal() {
		now := r.UpdatedAt
		r.CompletedAt = &now
	}
	s.byID[taskID] = r
	s.mu.Unlock()

	return r.clone(), s.persist(ctx, r)
}

// ListByAgent returns tasks where agentID is the sender (direction
// "sent") or the recipient (direction "received") — the query surface
// spec.md §8 scenario (e) exercises via flock_tasks.
func (s *Store) ListByAgent(agentID, direction string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.byID {
		switch direction {
		case "sent":
			if r.FromAgentID == agentID {
				out = append(out, r.clone())
			}
		case "received":
			if r.ToAgentID == agentID {
				out = append(out, r.clone())
			}
		default:
			if r.FromAgentID == agentID || r.ToAgentID == agentID {
				out = append(out, r.clone())
			}
		}
	}
	return out
}

func (s *Store) persist(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshalling task record: %w", err)
	}
	return s.kv.Put(ctx, keyPrefix+r.TaskID, data)
}
