// Package a2aserver implements the per-node A2A JSON-RPC dispatch
// surface (spec.md §6): agent registration, the aggregate agent-card
// directory, method routing for /a2a/{agentId}, and interception of
// the reserved migration/* namespace ahead of per-agent dispatch.
// Grounded on the teacher's a2a/server.go RegisterAgent/mux routing
// shape and pkg/transport/jsonrpc_handler.go's JSON-RPC 2.0 envelope
// handling, adapted from REST+gRPC-backed dispatch to Flock's
// store-backed Executor/Handlers model.
package a2aserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/card"
	"github.com/flockmesh/flock/pkg/executor"
	"github.com/flockmesh/flock/pkg/metrics"
	"github.com/flockmesh/flock/pkg/migration"
	"github.com/flockmesh/flock/pkg/task"
)

// AgentDispatcher is the per-agent request handler an *executor.Executor
// satisfies: it runs one message/send call through to completion and
// returns the resulting task record.
type AgentDispatcher interface {
	Execute(ctx context.Context, fromAgentID string, msg a2a.Message, contextID string, bus executor.EventBus) (task.Record, error)
}

type registeredAgent struct {
	dispatcher AgentDispatcher
	cardEntry  card.Entry
}

// Server is the node-level A2A dispatch table (spec.md §6).
type Server struct {
	nodeID    string
	migration *migration.Handlers // nil if this node runs no migration engine
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.RWMutex
	agents map[string]registeredAgent
}

// Config wires a Server instance.
type Config struct {
	NodeID    string
	Migration *migration.Handlers
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// New builds an empty Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		nodeID:    cfg.NodeID,
		migration: cfg.Migration,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		agents:    make(map[string]registeredAgent),
	}
}

// RegisterAgent adds (or replaces) an agent's dispatcher and card.
func (s *Server) RegisterAgent(agentID string, dispatcher AgentDispatcher, entry card.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentID] = registeredAgent{dispatcher: dispatcher, cardEntry: entry}
}

// UnregisterAgent removes an agent (idempotent).
func (s *Server) UnregisterAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentID)
}

// HasAgent reports whether agentID is currently hosted on this node.
func (s *Server) HasAgent(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[agentID]
	return ok
}

// GetAgentCard returns a hosted agent's card entry.
func (s *Server) GetAgentCard(agentID string) (card.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	if !ok {
		return card.Entry{}, false
	}
	return a.cardEntry, true
}

// ListAgentCards returns every hosted agent's card, for the aggregate
// /.well-known/agent-card.json directory (spec.md §6).
func (s *Server) ListAgentCards() []card.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]card.Card, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.cardEntry.Card)
	}
	return out
}

// HandleRequest dispatches one JSON-RPC request. If req.Method is a
// migration/* method, it is routed to the node-level migration handler
// regardless of agentID, taking priority over per-agent dispatch
// (spec.md §6: "reserved migration/* (dispatched to node-level
// handlers regardless of agentId)").
func (s *Server) HandleRequest(ctx context.Context, agentID string, req a2a.Request) *a2a.Response {
	start := time.Now()
	resp := s.handleRequest(ctx, agentID, req)
	s.metrics.RecordA2ARequest(req.Method, a2aResultCode(resp), time.Since(start))
	return resp
}

func (s *Server) handleRequest(ctx context.Context, agentID string, req a2a.Request) *a2a.Response {
	if req.JSONRPC != "2.0" {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInvalidRequest, "invalid JSON-RPC version")
	}

	if strings.HasPrefix(req.Method, "migration/") {
		return s.dispatchMigration(ctx, req)
	}

	switch req.Method {
	case "message/send":
		return s.dispatchMessageSend(ctx, agentID, req)
	default:
		return a2a.NewErrorResponse(req.ID, a2a.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// a2aResultCode renders a response's result code for the a2a_requests_total
// label: "ok" for a successful response, else the JSON-RPC error code.
func a2aResultCode(resp *a2a.Response) string {
	if resp == nil || resp.Error == nil {
		return "ok"
	}
	return strconv.Itoa(resp.Error.Code)
}

func (s *Server) dispatchMessageSend(ctx context.Context, agentID string, req a2a.Request) *a2a.Response {
	s.mu.RLock()
	agent, ok := s.agents[agentID]
	s.mu.RUnlock()
	if !ok {
		return a2a.NewErrorResponse(req.ID, a2a.CodeUnknownAgent, fmt.Sprintf("unknown agent: %s", agentID))
	}

	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "invalid message/send params")
	}

	contextID := params.Message.MessageID
	rec, err := agent.dispatcher.Execute(ctx, agentID, params.Message, contextID, nil)
	if err != nil {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error())
	}

	result := taskFromRecord(rec)
	resp, err := a2a.NewResponse(req.ID, result)
	if err != nil {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error())
	}
	return resp
}

func (s *Server) dispatchMigration(ctx context.Context, req a2a.Request) *a2a.Response {
	if s.migration == nil {
		return a2a.NewErrorResponse(req.ID, a2a.CodeMethodNotFound, "this node runs no migration engine")
	}

	resp, err := dispatchMigrationMethod(ctx, s.migration, req.Method, req.Params)
	if err != nil {
		var rpcErr *a2a.Error
		if e, ok := err.(*a2a.Error); ok {
			rpcErr = e
		} else {
			rpcErr = &a2a.Error{Code: a2a.CodeInternalError, Message: err.Error()}
		}
		return a2a.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message)
	}
	resp.ID = req.ID
	return resp
}

// taskFromRecord renders a task.Record as the A2A Task result shape
// (spec.md §6).
func taskFromRecord(rec task.Record) a2a.Task {
	t := a2a.Task{
		Kind:      "task",
		ID:        rec.TaskID,
		ContextID: rec.ContextID,
		Status:    a2a.TaskStatus{State: rec.State},
	}
	if rec.ResponseText != "" || rec.ResponsePayload != "" {
		parts := []a2a.Part{{Kind: a2a.PartKindText, Text: rec.ResponseText}}
		if rec.ResponsePayload != "" {
			parts = append(parts, a2a.Part{Kind: a2a.PartKindData, Data: json.RawMessage(rec.ResponsePayload)})
		}
		t.Artifacts = []a2a.Artifact{{ArtifactID: rec.TaskID + "-response", Name: "response", Parts: parts}}
	}
	return t
}
