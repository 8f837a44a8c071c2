// Package noderegistry implements the node registry with hierarchical
// lookup (spec.md §4.5): local CRUD over nodes and hosted agents, plus
// a parent-registry fallback with TTL-based cache invalidation and
// stale-entry revalidation on delivery failure. Grounded on the
// teacher's pkg/registry.BaseRegistry map+mutex shape, generalized with
// the parent-cache and synthetic-node behavior §4.5 requires.
package noderegistry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Status is a node's liveness as last observed.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// Entry is a node registry record (spec.md §3).
type Entry struct {
	NodeID      string
	A2AEndpoint string
	Status      Status
	LastSeen    int64 // epoch ms
	AgentIDs    []string
}

func (e Entry) clone() Entry {
	ids := make([]string, len(e.AgentIDs))
	copy(ids, e.AgentIDs)
	e.AgentIDs = ids
	return e
}

// cacheEntry is the parent-cache record keyed by agentID (spec.md §3).
type cacheEntry struct {
	cachedAt time.Time
	nodeID   string
}

// ParentConfig configures the upstream registry consulted on local miss.
type ParentConfig struct {
	Endpoint     string
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxCacheSize int // bounds the parent-cache (spec.md §9 Open Question)

	// QPS bounds outbound requests to the parent directory endpoint
	// (spec.md §9 "graceful parent failure": don't hammer a flapping
	// parent with every local cache miss). Burst allows a short spike on
	// top of the steady rate. Both default if left at zero.
	QPS   float64
	Burst int

	// HTTPClient is overridable for tests.
	HTTPClient *http.Client
}

// Result is returned by lookups that may have consulted the parent.
type Result struct {
	Entry      Entry
	FromParent bool
}

// Registry is the node registry with hierarchical lookup.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]Entry

	parentCache      map[string]cacheEntry
	parentCacheOrder []string // least-recently-validated first, for LRU eviction

	parent  *ParentConfig
	group   singleflight.Group
	limiter *rate.Limiter
}

// New returns a registry. parent may be nil if this node has no parent.
func New(parent *ParentConfig) *Registry {
	var limiter *rate.Limiter
	if parent != nil {
		if parent.Timeout <= 0 {
			parent.Timeout = 5 * time.Second
		}
		if parent.CacheTTL <= 0 {
			parent.CacheTTL = 5 * time.Minute
		}
		if parent.MaxCacheSize <= 0 {
			parent.MaxCacheSize = 10000
		}
		if parent.QPS <= 0 {
			parent.QPS = 10
		}
		if parent.Burst <= 0 {
			parent.Burst = 5
		}
		if parent.HTTPClient == nil {
			parent.HTTPClient = &http.Client{Timeout: parent.Timeout}
		}
		limiter = rate.NewLimiter(rate.Limit(parent.QPS), parent.Burst)
	}
	return &Registry{
		nodes:       make(map[string]Entry),
		parentCache: make(map[string]cacheEntry),
		parent:      parent,
		limiter:     limiter,
	}
}

// Register inserts or replaces a node entry.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[e.NodeID] = e.clone()
}

// Remove deletes a node entry.
func (r *Registry) Remove(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, nodeID)
}

// Get returns a defensive copy of a node entry.
func (r *Registry) Get(nodeID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// UpdateAgents replaces a node's known agent set.
func (r *Registry) UpdateAgents(nodeID string, agentIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	e.AgentIDs = append([]string(nil), agentIDs...)
	r.nodes[nodeID] = e
}

// UpdateStatus sets a node's status; status=online also bumps lastSeen
// (spec.md §4.5).
func (r *Registry) UpdateStatus(nodeID string, status Status, nowMillis int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	e.Status = status
	if status == StatusOnline {
		e.LastSeen = nowMillis
	}
	r.nodes[nodeID] = e
}

// findLocal scans local nodes for one whose AgentIDs contains agentID.
func (r *Registry) findLocal(agentID string) (string, Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for nodeID, e := range r.nodes {
		for _, id := range e.AgentIDs {
			if id == agentID {
				return nodeID, e.clone(), true
			}
		}
	}
	return "", Entry{}, false
}

// FindNodeForAgentWithParent implements spec.md §4.5's three-step
// hierarchical lookup.
func (r *Registry) FindNodeForAgentWithParent(ctx context.Context, agentID string) (*Result, error) {
	if nodeID, entry, ok := r.findLocal(agentID); ok {
		r.mu.RLock()
		cached, hasCache := r.parentCache[agentID]
		r.mu.RUnlock()

		if !hasCache {
			return &Result{Entry: entry, FromParent: false}, nil
		}

		if time.Since(cached.cachedAt) <= r.parentTTL() {
			return &Result{Entry: entry, FromParent: true}, nil
		}

		// Stale: revalidate against the parent.
		fresh, err := r.queryParent(ctx, agentID)
		if err != nil || fresh == nil {
			r.evict(agentID, nodeID)
			return nil, nil
		}
		if fresh.NodeID != nodeID {
			r.evict(agentID, nodeID)
		}
		r.cacheFromParent(agentID, *fresh)
		updated, _ := r.Get(fresh.NodeID)
		return &Result{Entry: updated, FromParent: true}, nil
	}

	if r.parent == nil {
		return nil, nil
	}

	fresh, err := r.queryParent(ctx, agentID)
	if err != nil || fresh == nil {
		return nil, nil
	}
	r.cacheFromParent(agentID, *fresh)
	updated, _ := r.Get(fresh.NodeID)
	return &Result{Entry: updated, FromParent: true}, nil
}

// ValidateAgent is used when a delivery to expectedNodeID failed because
// the node reports it doesn't host the agent: evict the stale mapping
// and re-query the parent (spec.md §4.5).
func (r *Registry) ValidateAgent(ctx context.Context, agentID, expectedNodeID string) (*Result, error) {
	r.evict(agentID, expectedNodeID)

	fresh, err := r.queryParent(ctx, agentID)
	if err != nil || fresh == nil {
		return nil, err
	}
	r.cacheFromParent(agentID, *fresh)
	updated, _ := r.Get(fresh.NodeID)
	return &Result{Entry: updated, FromParent: true}, nil
}

func (r *Registry) parentTTL() time.Duration {
	if r.parent == nil {
		return 0
	}
	return r.parent.CacheTTL
}

// evict removes the parent-cache entry for agentID and, if the cached
// node is synthetic and now has no agents, the node entry too (spec.md
// §4.5).
func (r *Registry) evict(agentID, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.parentCache, agentID)
	r.removeFromOrderLocked(agentID)

	e, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	remaining := make([]string, 0, len(e.AgentIDs))
	for _, id := range e.AgentIDs {
		if id != agentID {
			remaining = append(remaining, id)
		}
	}
	e.AgentIDs = remaining
	r.nodes[nodeID] = e

	if strings.HasPrefix(nodeID, "parent-resolved-") && len(remaining) == 0 {
		delete(r.nodes, nodeID)
	}
}

// cacheFromParent merges a parent-resolved entry into the local
// registry and records its parent-cache entry, bounding the cache size
// per spec.md §9's Open Question.
func (r *Registry) cacheFromParent(agentID string, fresh Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.nodes[fresh.NodeID]
	if ok {
		merged := mergeAgentIDs(existing.AgentIDs, fresh.AgentIDs)
		existing.AgentIDs = merged
		existing.Status = fresh.Status
		existing.LastSeen = fresh.LastSeen
		existing.A2AEndpoint = fresh.A2AEndpoint
		r.nodes[fresh.NodeID] = existing
	} else {
		r.nodes[fresh.NodeID] = fresh.clone()
	}

	r.parentCache[agentID] = cacheEntry{cachedAt: time.Now(), nodeID: fresh.NodeID}
	r.removeFromOrderLocked(agentID)
	r.parentCacheOrder = append(r.parentCacheOrder, agentID)

	maxSize := 10000
	if r.parent != nil {
		maxSize = r.parent.MaxCacheSize
	}
	for len(r.parentCacheOrder) > maxSize {
		oldest := r.parentCacheOrder[0]
		r.parentCacheOrder = r.parentCacheOrder[1:]
		delete(r.parentCache, oldest)
	}
}

func (r *Registry) removeFromOrderLocked(agentID string) {
	for i, id := range r.parentCacheOrder {
		if id == agentID {
			r.parentCacheOrder = append(r.parentCacheOrder[:i], r.parentCacheOrder[i+1:]...)
			return
		}
	}
}

func mergeAgentIDs(a, b []string) []string {
	set := make(map[string]bool)
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		set[id] = true
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// parentAgentCard mirrors the subset of the parent's agent-card
// directory JSON that lookup needs: {"agents":[{"id","url",...}]}.
type parentAgentCard struct {
	Agents []struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"agents"`
}

// queryParent performs the HTTP GET against the parent's directory and
// extracts a synthetic node entry for agentID, or nil if not found.
// Failures are quiet: logged by the caller's discretion, never raised
// (spec.md §9 "graceful parent failure"). Concurrent lookups for the
// same agentID are collapsed via singleflight (SPEC_FULL.md DOMAIN
// STACK: golang.org/x/sync).
func (r *Registry) queryParent(ctx context.Context, agentID string) (*Entry, error) {
	if r.parent == nil {
		return nil, nil
	}

	v, err, _ := r.group.Do(agentID, func() (any, error) {
		return r.fetchFromParent(ctx, agentID)
	})
	if err != nil {
		return nil, nil // quiet failure, spec.md §9
	}
	e, _ := v.(*Entry)
	if e == nil {
		return nil, nil
	}
	return e, nil
}

// fetchFromParent performs the rate-limited, singleflight-deduplicated
// outbound request to the parent directory (SPEC_FULL.md DOMAIN STACK:
// golang.org/x/time/rate). r.limiter.Wait blocks until a token is
// available or ctx is done, so a flapping parent never gets hit harder
// than parent.QPS regardless of how many local misses pile up.
func (r *Registry) fetchFromParent(ctx context.Context, agentID string) (*Entry, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	url := strings.TrimSuffix(r.parent.Endpoint, "/") + "/.well-known/agent-card.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.parent.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parent registry returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var directory parentAgentCard
	if err := json.Unmarshal(body, &directory); err != nil {
		return nil, err
	}

	for _, a := range directory.Agents {
		if a.ID != agentID {
			continue
		}
		endpoint := baseEndpointFromAgentURL(a.URL, agentID)
		return &Entry{
			NodeID:      "parent-resolved-" + endpoint,
			A2AEndpoint: endpoint,
			Status:      StatusOnline,
			LastSeen:    time.Now().UnixMilli(),
			AgentIDs:    []string{agentID},
		}, nil
	}
	return nil, nil
}

// baseEndpointFromAgentURL strips the "/a2a/{agentId}" suffix from an
// agent's advertised URL, supporting nested base paths like
// "/deep/flock" (spec.md §4.5).
func baseEndpointFromAgentURL(url, agentID string) string {
	suffix := "/a2a/" + agentID
	return strings.TrimSuffix(url, suffix)
}
