package a2aserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/card"
	"github.com/flockmesh/flock/pkg/executor"
	"github.com/flockmesh/flock/pkg/task"
)

type fakeDispatcher struct {
	rec task.Record
	err error
}

func (f *fakeDispatcher) Execute(ctx context.Context, fromAgentID string, msg a2a.Message, contextID string, bus executor.EventBus) (task.Record, error) {
	return f.rec, f.err
}

func testCardEntry(agentID string) card.Entry {
	return card.Entry{
		Card: card.Card{Name: agentID, Description: "test agent"},
		Meta: card.Meta{Role: a2a.RoleWorker, NodeID: "node-1"},
	}
}

func TestRegisterAgent_HasAgentAndGetAgentCard(t *testing.T) {
	s := New(Config{NodeID: "node-1"})
	s.RegisterAgent("worker-a", &fakeDispatcher{}, testCardEntry("worker-a"))

	assert.True(t, s.HasAgent("worker-a"))
	entry, ok := s.GetAgentCard("worker-a")
	require.True(t, ok)
	assert.Equal(t, "worker-a", entry.Card.Name)

	assert.Len(t, s.ListAgentCards(), 1)
}

func TestUnregisterAgent_RemovesAgent(t *testing.T) {
	s := New(Config{NodeID: "node-1"})
	s.RegisterAgent("worker-a", &fakeDispatcher{}, testCardEntry("worker-a"))
	s.UnregisterAgent("worker-a")
	assert.False(t, s.HasAgent("worker-a"))
}

func TestHandleRequest_MessageSendDispatchesToRegisteredAgent(t *testing.T) {
	s := New(Config{NodeID: "node-1"})
	rec := task.Record{TaskID: "t1", ContextID: "c1", State: a2a.TaskStateCompleted, ResponseText: "hello"}
	s.RegisterAgent("worker-a", &fakeDispatcher{rec: rec}, testCardEntry("worker-a"))

	params, _ := json.Marshal(a2a.MessageSendParams{Message: a2a.Message{MessageID: "c1", Role: a2a.RoleUser, Parts: []a2a.Part{{Kind: a2a.PartKindText, Text: "hi"}}}})
	req := a2a.Request{JSONRPC: "2.0", Method: "message/send", Params: params, ID: json.RawMessage(`1`)}

	resp := s.HandleRequest(context.Background(), "worker-a", req)
	require.Nil(t, resp.Error)

	var got a2a.Task
	require.NoError(t, json.Unmarshal(resp.Result, &got))
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, a2a.TaskStateCompleted, got.Status.State)
	require.Len(t, got.Artifacts, 1)
	assert.Equal(t, "hello", got.Artifacts[0].Parts[0].Text)
}

func TestHandleRequest_UnknownAgentReturnsUnknownAgentError(t *testing.T) {
	s := New(Config{NodeID: "node-1"})
	params, _ := json.Marshal(a2a.MessageSendParams{})
	req := a2a.Request{JSONRPC: "2.0", Method: "message/send", Params: params}

	resp := s.HandleRequest(context.Background(), "nobody", req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeUnknownAgent, resp.Error.Code)
}

func TestHandleRequest_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	s := New(Config{NodeID: "node-1"})
	req := a2a.Request{JSONRPC: "2.0", Method: "bogus/method"}

	resp := s.HandleRequest(context.Background(), "worker-a", req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeMethodNotFound, resp.Error.Code)
}

func TestHandleRequest_RejectsBadJSONRPCVersion(t *testing.T) {
	s := New(Config{NodeID: "node-1"})
	req := a2a.Request{JSONRPC: "1.0", Method: "message/send"}
	resp := s.HandleRequest(context.Background(), "worker-a", req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeInvalidRequest, resp.Error.Code)
}

func TestHandleRequest_MigrationMethodWithoutEngineErrorsCleanly(t *testing.T) {
	s := New(Config{NodeID: "node-1"})
	req := a2a.Request{JSONRPC: "2.0", Method: "migration/status", Params: json.RawMessage(`{"migrationId":"m1"}`)}

	resp := s.HandleRequest(context.Background(), "", req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeMethodNotFound, resp.Error.Code)
}

func TestHandleRequest_MigrationMethodTakesPriorityOverAgentID(t *testing.T) {
	s := New(Config{NodeID: "node-1"})
	s.RegisterAgent("migration", &fakeDispatcher{}, testCardEntry("migration"))

	req := a2a.Request{JSONRPC: "2.0", Method: "migration/status", Params: json.RawMessage(`{"migrationId":"m1"}`)}
	resp := s.HandleRequest(context.Background(), "migration", req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeMethodNotFound, resp.Error.Code, "no migration engine wired, so this must still be a migration/status dispatch, not a message/send one")
}
