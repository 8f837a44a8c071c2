package noderegistry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet_RoundTripsAnEntry(t *testing.T) {
	r := New(nil)
	r.Register(Entry{NodeID: "n1", A2AEndpoint: "http://n1:8080/flock", AgentIDs: []string{"worker-a"}})

	e, ok := r.Get("n1")
	require.True(t, ok)
	assert.Equal(t, "http://n1:8080/flock", e.A2AEndpoint)
}

func TestGet_ReturnsADefensiveCopy(t *testing.T) {
	r := New(nil)
	r.Register(Entry{NodeID: "n1", AgentIDs: []string{"worker-a"}})

	e, ok := r.Get("n1")
	require.True(t, ok)
	e.AgentIDs[0] = "mutated"

	again, ok := r.Get("n1")
	require.True(t, ok)
	assert.Equal(t, "worker-a", again.AgentIDs[0])
}

func TestRemove_DeletesTheEntry(t *testing.T) {
	r := New(nil)
	r.Register(Entry{NodeID: "n1"})
	r.Remove("n1")

	_, ok := r.Get("n1")
	assert.False(t, ok)
}

func TestUpdateAgentsAndStatus_MutateKnownNodesOnly(t *testing.T) {
	r := New(nil)
	r.Register(Entry{NodeID: "n1"})

	r.UpdateAgents("n1", []string{"worker-a", "worker-b"})
	e, _ := r.Get("n1")
	assert.ElementsMatch(t, []string{"worker-a", "worker-b"}, e.AgentIDs)

	r.UpdateStatus("n1", StatusOnline, 123)
	e, _ = r.Get("n1")
	assert.Equal(t, StatusOnline, e.Status)
	assert.Equal(t, int64(123), e.LastSeen)

	r.UpdateAgents("unknown", []string{"x"})
	_, ok := r.Get("unknown")
	assert.False(t, ok, "updating an unregistered node must not create it")
}

func TestFindNodeForAgentWithParent_ResolvesLocallyWithoutConsultingParent(t *testing.T) {
	r := New(nil)
	r.Register(Entry{NodeID: "n1", A2AEndpoint: "http://n1:8080/flock", AgentIDs: []string{"worker-a"}})

	result, err := r.FindNodeForAgentWithParent(context.Background(), "worker-a")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.FromParent)
	assert.Equal(t, "n1", result.Entry.NodeID)
}

func TestFindNodeForAgentWithParent_UnknownAgentWithNoParentReturnsNil(t *testing.T) {
	r := New(nil)
	result, err := r.FindNodeForAgentWithParent(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestFindNodeForAgentWithParent_FallsBackToParentOnLocalMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"agents":[{"id":"worker-a","url":"http://remote:8080/flock/a2a/worker-a"}]}`)
	}))
	defer srv.Close()

	r := New(&ParentConfig{Endpoint: srv.URL, CacheTTL: time.Minute})
	result, err := r.FindNodeForAgentWithParent(context.Background(), "worker-a")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.FromParent)
	assert.Equal(t, "http://remote:8080/flock", result.Entry.A2AEndpoint)
}

func TestFindNodeForAgentWithParent_ParentMissReturnsNilWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"agents":[]}`)
	}))
	defer srv.Close()

	r := New(&ParentConfig{Endpoint: srv.URL, CacheTTL: time.Minute})
	result, err := r.FindNodeForAgentWithParent(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestFindNodeForAgentWithParent_CachedLocalEntryRevalidatesWhenStale(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"agents":[{"id":"worker-a","url":"http://remote:8080/flock/a2a/worker-a"}]}`)
	}))
	defer srv.Close()

	r := New(&ParentConfig{Endpoint: srv.URL, CacheTTL: time.Millisecond})

	first, err := r.FindNodeForAgentWithParent(context.Background(), "worker-a")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, calls)

	time.Sleep(5 * time.Millisecond)

	second, err := r.FindNodeForAgentWithParent(context.Background(), "worker-a")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 2, calls, "a stale cached entry must be revalidated against the parent")
}

func TestValidateAgent_EvictsAndRequeriesParent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"agents":[{"id":"worker-a","url":"http://remote2:8080/flock/a2a/worker-a"}]}`)
	}))
	defer srv.Close()

	r := New(&ParentConfig{Endpoint: srv.URL, CacheTTL: time.Minute})
	r.Register(Entry{NodeID: "stale-node", AgentIDs: []string{"worker-a"}})

	result, err := r.ValidateAgent(context.Background(), "worker-a", "stale-node")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "http://remote2:8080/flock", result.Entry.A2AEndpoint)

	stale, ok := r.Get("stale-node")
	require.True(t, ok)
	assert.NotContains(t, stale.AgentIDs, "worker-a")
}

func TestFetchFromParent_RateLimitsOutboundRequests(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"agents":[]}`)
	}))
	defer srv.Close()

	r := New(&ParentConfig{Endpoint: srv.URL, CacheTTL: time.Minute, QPS: 5, Burst: 1})
	require.NotNil(t, r.limiter)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := r.fetchFromParent(ctx, fmt.Sprintf("agent-%d", i))
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.Equal(t, 3, calls)
	assert.Greater(t, elapsed, 300*time.Millisecond, "a burst of 1 at 5qps should throttle the 2nd/3rd request to roughly 200ms apart")
}

func TestCacheFromParent_EvictsOldestWhenOverCapacity(t *testing.T) {
	r := New(&ParentConfig{Endpoint: "http://unused", CacheTTL: time.Minute, MaxCacheSize: 1})

	r.cacheFromParent("agent-1", Entry{NodeID: "n1", AgentIDs: []string{"agent-1"}})
	r.cacheFromParent("agent-2", Entry{NodeID: "n2", AgentIDs: []string{"agent-2"}})

	assert.Len(t, r.parentCacheOrder, 1)
	assert.Equal(t, "agent-2", r.parentCacheOrder[0])
}
