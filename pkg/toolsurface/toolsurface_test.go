package toolsurface

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockmesh/flock/internal/store/memstore"
	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/a2aclient"
	"github.com/flockmesh/flock/pkg/a2aserver"
	"github.com/flockmesh/flock/pkg/card"
	"github.com/flockmesh/flock/pkg/executor"
	"github.com/flockmesh/flock/pkg/noderegistry"
	"github.com/flockmesh/flock/pkg/task"
)

type stubDispatcher struct {
	rec task.Record
	err error
}

func (d *stubDispatcher) Execute(ctx context.Context, fromAgentID string, msg a2a.Message, contextID string, bus executor.EventBus) (task.Record, error) {
	return d.rec, d.err
}

func newTestSurface(t *testing.T) (*Surface, *task.Store) {
	t.Helper()
	kv := memstore.New()
	tasks, err := task.Open(context.Background(), kv)
	require.NoError(t, err)

	srv := a2aserver.New(a2aserver.Config{NodeID: "n1"})
	rec := task.Record{TaskID: "t1", State: a2a.TaskStateCompleted, ResponseText: "pong"}
	srv.RegisterAgent("worker-b", &stubDispatcher{rec: rec}, card.Entry{Card: card.Card{Name: "worker-b"}})

	client := a2aclient.New(srv, &stubResolver{local: true}, "/flock")
	registry := noderegistry.New(nil)
	registry.Register(noderegistry.Entry{NodeID: "n1", A2AEndpoint: "http://n1:8080", AgentIDs: []string{"worker-b"}})

	return &Surface{
		AgentID:   "worker-a",
		Client:    client,
		TaskStore: tasks,
		Registry:  registry,
	}, tasks
}

type stubResolver struct {
	local    bool
	endpoint string
}

func (r *stubResolver) Resolve(ctx context.Context, agentID string) (a2aclient.Target, error) {
	return a2aclient.Target{Local: r.local, Endpoint: r.endpoint}, nil
}

func (r *stubResolver) ResolveSysadmin(ctx context.Context, fromAgentID string) (a2aclient.Target, error) {
	return r.Resolve(ctx, fromAgentID)
}

func TestMessage_DelegatesToClientAndReportsOK(t *testing.T) {
	surface, _ := newTestSurface(t)

	result := surface.Message(context.Background(), "worker-b", "hello")
	assert.True(t, result.OK)
	assert.Equal(t, "t1", result.TaskID)
	assert.Equal(t, "pong", result.Response)
}

func TestTasks_RejectsInvalidDirection(t *testing.T) {
	surface, _ := newTestSurface(t)
	result := surface.Tasks("sideways")
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "invalid direction")
}

func TestTasks_ListsCreatedTasksByDirection(t *testing.T) {
	surface, tasks := newTestSurface(t)
	_, err := tasks.Create(context.Background(), "worker-a", "worker-b", "ctx-1", task.MessageTypeWorkerTask, "hi", "hi")
	require.NoError(t, err)

	result := surface.Tasks("sent")
	assert.True(t, result.OK)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, "worker-a", result.Tasks[0].FromAgentID)
}

func TestDiscover_ReturnsEndpointForKnownAgent(t *testing.T) {
	surface, _ := newTestSurface(t)
	result := surface.Discover(context.Background(), "worker-b")
	assert.True(t, result.OK)
	assert.Equal(t, "http://n1:8080", result.Endpoint)
}

func TestDiscover_UnknownAgentReturnsNotOK(t *testing.T) {
	surface, _ := newTestSurface(t)
	result := surface.Discover(context.Background(), "nobody")
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "not found")
}

func TestStatus_ReportsTaskState(t *testing.T) {
	surface, tasks := newTestSurface(t)
	rec, err := tasks.Create(context.Background(), "worker-a", "worker-b", "ctx-1", task.MessageTypeWorkerTask, "hi", "hi")
	require.NoError(t, err)
	rec, err = tasks.UpdateState(context.Background(), rec.TaskID, a2a.TaskStateCompleted, "done", "")
	require.NoError(t, err)

	result := surface.Status(rec.TaskID)
	assert.True(t, result.OK)
	assert.Equal(t, a2a.TaskStateCompleted, result.State)
	assert.Equal(t, "done", result.Response)
}

func TestStatus_UnknownTaskReturnsNotOK(t *testing.T) {
	surface, _ := newTestSurface(t)
	result := surface.Status("nonexistent")
	assert.False(t, result.OK)
}
