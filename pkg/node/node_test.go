package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/a2aclient"
	"github.com/flockmesh/flock/pkg/config"
)

func testConfig(nodeID string) *config.Config {
	cfg := config.Default()
	cfg.NodeID = nodeID
	cfg.HTTP.Endpoint = "http://127.0.0.1:8080"
	cfg.Scheduler.TickInterval = 20 * time.Millisecond
	return cfg
}

func TestOpen_WiresEveryCollaborator(t *testing.T) {
	n, err := Open(context.Background(), testConfig("n1"), "")
	require.NoError(t, err)

	assert.NotNil(t, n.Homes)
	assert.NotNil(t, n.Assignments)
	assert.NotNil(t, n.Registry)
	assert.NotNil(t, n.Tasks)
	assert.NotNil(t, n.Audit)
	assert.NotNil(t, n.Triage)
	assert.NotNil(t, n.Cards)
	assert.NotNil(t, n.Channels)
	assert.NotNil(t, n.Messages)
	assert.NotNil(t, n.Bridges)
	assert.NotNil(t, n.Loop)
	assert.NotNil(t, n.Archives)
	assert.NotNil(t, n.Inbound)
	assert.NotNil(t, n.MigrationEngine)
	assert.NotNil(t, n.MigrationHandlers)
	assert.NotNil(t, n.Resolver)
	assert.NotNil(t, n.Client)
	assert.NotNil(t, n.Server)
	assert.NotNil(t, n.Metrics)

	_, ok := n.Registry.Get("n1")
	assert.True(t, ok)
}

func TestOpen_NilConfigErrors(t *testing.T) {
	_, err := Open(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestBuildResolver_PicksTopologyFromCentralConfig(t *testing.T) {
	peerCfg := testConfig("peer")
	n, err := Open(context.Background(), peerCfg, "")
	require.NoError(t, err)
	assert.IsType(t, &a2aclient.PeerResolver{}, n.Resolver, "expected peer topology by default")

	workerCfg := testConfig("worker")
	workerCfg.Central.Enabled = true
	workerCfg.Central.Endpoint = "http://central:8080"
	workerCfg.Central.SysadminID = "sysadmin"
	nw, err := Open(context.Background(), workerCfg, "")
	require.NoError(t, err)
	assert.IsType(t, &a2aclient.CentralWorkerResolver{}, nw.Resolver)

	centralCfg := testConfig("central")
	centralCfg.Central.Enabled = true
	centralCfg.Central.IsCentral = true
	nc, err := Open(context.Background(), centralCfg, "")
	require.NoError(t, err)
	assert.IsType(t, &a2aclient.CentralCentralResolver{}, nc.Resolver)
}

func TestRegisterAgent_CreatesHomeCardAndDispatcher(t *testing.T) {
	n, err := Open(context.Background(), testConfig("n1"), "")
	require.NoError(t, err)

	send := func(ctx context.Context, agentID, prompt, sessionKey string) (string, error) {
		return "echo: " + prompt, nil
	}
	ex, err := n.RegisterAgent(context.Background(), AgentSpec{
		AgentID:     "worker-a",
		Role:        a2a.RoleWorker,
		Name:        "worker-a",
		Description: "a test worker",
		Send:        send,
	})
	require.NoError(t, err)
	require.NotNil(t, ex)

	_, ok := n.Homes.Get("worker-a")
	assert.True(t, ok)

	entry, ok := n.Cards.Get("worker-a")
	assert.True(t, ok)
	assert.Equal(t, "worker-a", entry.Card.Name)

	assert.True(t, n.Server.HasAgent("worker-a"))
}

func TestHandler_ServesHealthForRegisteredAgents(t *testing.T) {
	n, err := Open(context.Background(), testConfig("n1"), "")
	require.NoError(t, err)

	send := func(ctx context.Context, agentID, prompt, sessionKey string) (string, error) {
		return "ok", nil
	}
	_, err = n.RegisterAgent(context.Background(), AgentSpec{AgentID: "worker-a", Send: send})
	require.NoError(t, err)

	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/flock/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string   `json:"status"`
		NodeID string   `json:"nodeId"`
		Agents []string `json:"agents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "n1", health.NodeID)
	assert.Contains(t, health.Agents, "worker-a")
}

func TestScheduler_TicksAwakeAgentThroughExecutor(t *testing.T) {
	n, err := Open(context.Background(), testConfig("n1"), "")
	require.NoError(t, err)

	calls := make(chan string, 4)
	send := func(ctx context.Context, agentID, prompt, sessionKey string) (string, error) {
		calls <- prompt
		return "did something", nil
	}
	_, err = n.RegisterAgent(context.Background(), AgentSpec{AgentID: "worker-a", Send: send})
	require.NoError(t, err)

	n.Loop.Wake("worker-a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.StartScheduler(ctx)

	select {
	case prompt := <-calls:
		assert.Equal(t, wakeAgentPrompt, prompt)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never ticked the awake agent")
	}

	require.NoError(t, n.Shutdown(context.Background()))
}

func TestTick_FansOutConcurrentlyAcrossAwakeAgents(t *testing.T) {
	n, err := Open(context.Background(), testConfig("n1"), "")
	require.NoError(t, err)

	const agentCount = 4
	release := make(chan struct{})
	var inFlight int32
	var maxInFlight int32
	send := func(ctx context.Context, agentID, prompt, sessionKey string) (string, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return "done", nil
	}

	for i := 0; i < agentCount; i++ {
		agentID := fmt.Sprintf("worker-%d", i)
		_, err = n.RegisterAgent(context.Background(), AgentSpec{AgentID: agentID, Send: send})
		require.NoError(t, err)
		n.Loop.Wake(agentID)
	}

	done := make(chan struct{})
	go func() {
		n.tick(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&inFlight) == agentCount
	}, 2*time.Second, 5*time.Millisecond, "every awake agent's Execute must run concurrently within one tick")

	close(release)
	<-done
	assert.EqualValues(t, agentCount, maxInFlight)
}

func TestScheduler_SkipsSleepingAgents(t *testing.T) {
	n, err := Open(context.Background(), testConfig("n1"), "")
	require.NoError(t, err)

	calls := make(chan string, 4)
	send := func(ctx context.Context, agentID, prompt, sessionKey string) (string, error) {
		calls <- prompt
		return "", nil
	}
	_, err = n.RegisterAgent(context.Background(), AgentSpec{AgentID: "worker-a", Send: send})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	n.StartScheduler(ctx)

	select {
	case <-calls:
		t.Fatal("scheduler ticked a sleeping agent")
	case <-time.After(80 * time.Millisecond):
	}
	cancel()
	require.NoError(t, n.Shutdown(context.Background()))
}
