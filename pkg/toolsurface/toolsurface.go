// Package toolsurface implements the callable-tool surface a host
// runtime exposes to an agent's LLM session (SPEC_FULL.md's
// flock_discover/flock_status supplemented feature): flock_message,
// flock_tasks, flock_discover, and flock_status as plain Go functions
// over the same stores the HTTP surface uses. Grounded on the
// teacher's pkg/server/tools.go-style tool-function shape — a thin
// function per tool name, each returning a small result struct rather
// than a raw JSON-RPC envelope — adapted from the teacher's MCP/LLM
// tool registration to Flock's {ok, ...}/{ok:false, error} contract
// (spec.md §7 "Tools that delegate to the client").
package toolsurface

import (
	"context"
	"fmt"

	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/a2aclient"
	"github.com/flockmesh/flock/pkg/noderegistry"
	"github.com/flockmesh/flock/pkg/task"
)

// Surface wires the four tools to one agent's collaborators. A
// Surface is per-calling-agent: AgentID is the "from" identity every
// tool call is attributed to.
type Surface struct {
	AgentID   string
	Client    *a2aclient.Client
	TaskStore *task.Store
	Registry  *noderegistry.Registry
}

// Result is the generic {ok, ...}/{ok:false, error} envelope spec.md
// §7 describes for tools that delegate to the client.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	TaskID   string        `json:"taskId,omitempty"`
	State    a2a.TaskState `json:"state,omitempty"`
	Response string        `json:"response,omitempty"`
	Tasks    []task.Record `json:"tasks,omitempty"`
	Endpoint string        `json:"endpoint,omitempty"`
	Local    bool          `json:"local,omitempty"`
}

// Message implements flock_message: send text to toAgentID and return
// its immediate task shape (spec.md §8 property 8 "round-trip
// message-send").
func (s *Surface) Message(ctx context.Context, toAgentID, text string) Result {
	msg := a2a.Message{
		Role:  a2a.RoleUser,
		Parts: []a2a.Part{{Kind: a2a.PartKindText, Text: text}},
	}
	result, err := s.Client.Send(ctx, s.AgentID, toAgentID, msg)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	return Result{
		OK:       true,
		TaskID:   result.TaskID,
		State:    result.State,
		Response: result.Response,
	}
}

// Tasks implements flock_tasks: list this agent's tasks in a given
// direction ("sent" or "received"), for polling an async message/send
// to completion (spec.md §8 scenario (e)).
func (s *Surface) Tasks(direction string) Result {
	if direction != "sent" && direction != "received" {
		return Result{OK: false, Error: fmt.Sprintf("toolsurface: invalid direction %q, want \"sent\" or \"received\"", direction)}
	}
	return Result{OK: true, Tasks: s.TaskStore.ListByAgent(s.AgentID, direction)}
}

// Discover implements flock_discover: re-resolve where an agent lives,
// for the retry path spec.md §7's agent-level error taxonomy item
// names ("the message-level caller may retry via flock_discover").
func (s *Surface) Discover(ctx context.Context, agentID string) Result {
	result, err := s.Registry.FindNodeForAgentWithParent(ctx, agentID)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	if result == nil {
		return Result{OK: false, Error: fmt.Sprintf("toolsurface: agent %q not found", agentID)}
	}
	return Result{OK: true, Endpoint: result.Entry.A2AEndpoint, Local: false}
}

// Status implements flock_status: report a task's current state, for
// an agent checking in on work it previously submitted.
func (s *Surface) Status(taskID string) Result {
	rec, err := s.TaskStore.Get(taskID)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	return Result{OK: true, TaskID: rec.TaskID, State: rec.State, Response: rec.ResponseText}
}
