// Package audit implements the append-only audit log (spec.md §3, §4.6,
// §7). Grounded on the teacher's store-per-concern shape
// (pkg/registry.BaseRegistry) generalized to an append-only log over
// store.KV instead of a replaceable map.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flockmesh/flock/internal/store"
	"github.com/flockmesh/flock/pkg/metrics"
)

// Level is the audit severity, mirroring the sysadmin triage vocabulary
// (spec.md §3, §4.6).
type Level string

const (
	LevelGreen  Level = "GREEN"
	LevelYellow Level = "YELLOW"
	LevelRed    Level = "RED"
)

// Entry is one append-only audit record.
type Entry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	HomeID    string        `json:"homeId"`
	AgentID   string        `json:"agentId"`
	Action    string        `json:"action"`
	Level     Level         `json:"level"`
	Detail    string        `json:"detail"`
	Result    string        `json:"result,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Log is the append-only audit log interface.
type Log interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, agentID string, limit int) ([]Entry, error)
}

const keyPrefix = "audit/"

type storeLog struct {
	kv      store.KV
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries []Entry // append-ordered cache, rebuilt from kv at Open
}

// Open builds a Log backed by kv, replaying any existing entries into
// the in-process ordering cache used by List. m may be nil.
func Open(ctx context.Context, kv store.KV, logger *slog.Logger, m *metrics.Metrics) (Log, error) {
	l := &storeLog{kv: kv, logger: logger, metrics: m}
	raw, err := kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading audit log: %w", err)
	}
	for _, v := range raw {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			continue
		}
		l.entries = append(l.entries, e)
	}
	sort.Slice(l.entries, func(i, j int) bool { return l.entries[i].Timestamp.Before(l.entries[j].Timestamp) })
	return l, nil
}

func (l *storeLog) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling audit entry: %w", err)
	}
	if err := l.kv.Put(ctx, keyPrefix+e.ID, data); err != nil {
		return fmt.Errorf("persisting audit entry: %w", err)
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	l.metrics.RecordAuditEvent(string(e.Level))

	if e.Level == LevelRed && l.logger != nil {
		l.logger.Warn("audit RED", "agentId", e.AgentID, "action", e.Action, "detail", e.Detail)
	}
	return nil
}

func (l *storeLog) List(_ context.Context, agentID string, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
