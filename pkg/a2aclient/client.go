package a2aclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/a2aserver"
)

const defaultTimeout = 120 * time.Second

// Result normalizes the two wire result shapes (Task, Message) a
// message/send call can return (spec.md §4.3) into one caller-facing
// shape.
type Result struct {
	TaskID    string
	State     a2a.TaskState
	Response  string
	Artifacts []a2a.Artifact
	Raw       json.RawMessage
}

// TransportError reports a transport-level failure (spec.md §7 error
// taxonomy item 1): non-2xx HTTP, timeout, connection refused, or a
// malformed/unexpected JSON-RPC envelope. The client does not retry
// these; the caller decides (spec.md §4.3 "Retries").
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("a2aclient: transport error calling %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is the A2A client: topology-aware routing via an injected
// Resolver, in-process dispatch for local agents, HTTP dispatch for
// remote ones.
type Client struct {
	Server     *a2aserver.Server // in-process dispatch target for local agents
	Resolver   Resolver
	HTTPClient *http.Client
	BasePath   string // e.g. "/flock"; stored only: remote URLs are built as endpoint + "/a2a/{agentId}"
}

// New returns a Client with defaults filled in (120s HTTP timeout, per
// spec.md §4.3).
func New(server *a2aserver.Server, resolver Resolver, basePath string) *Client {
	return &Client{
		Server:     server,
		Resolver:   resolver,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		BasePath:   basePath,
	}
}

// Send resolves toAgentID via the configured Resolver and dispatches a
// message/send request to it, either in-process or over HTTP.
func (c *Client) Send(ctx context.Context, fromAgentID, toAgentID string, msg a2a.Message) (Result, error) {
	target, err := c.Resolver.Resolve(ctx, toAgentID)
	if err != nil {
		return Result{}, err
	}
	return c.dispatch(ctx, toAgentID, target, msg)
}

// SendSysadmin resolves the sysadmin target for fromAgentID via
// ResolveSysadmin and dispatches to it (spec.md §4.3).
func (c *Client) SendSysadmin(ctx context.Context, fromAgentID string, toAgentID string, msg a2a.Message) (Result, error) {
	target, err := c.Resolver.ResolveSysadmin(ctx, fromAgentID)
	if err != nil {
		return Result{}, err
	}
	return c.dispatch(ctx, toAgentID, target, msg)
}

func (c *Client) dispatch(ctx context.Context, toAgentID string, target Target, msg a2a.Message) (Result, error) {
	params, err := json.Marshal(a2a.MessageSendParams{Message: msg})
	if err != nil {
		return Result{}, fmt.Errorf("a2aclient: marshal params: %w", err)
	}
	req := a2a.Request{JSONRPC: "2.0", Method: "message/send", Params: params, ID: json.RawMessage(`1`)}

	var resp *a2a.Response
	if target.Local {
		if c.Server == nil {
			return Result{}, &UnresolvedError{AgentID: toAgentID}
		}
		resp = c.Server.HandleRequest(ctx, toAgentID, req)
	} else {
		resp, err = c.dispatchRemote(ctx, target.Endpoint, toAgentID, req)
		if err != nil {
			return Result{}, err
		}
	}

	if resp.Error != nil {
		return Result{}, resp.Error
	}
	return normalizeResult(resp.Result)
}

func (c *Client) dispatchRemote(ctx context.Context, endpoint, toAgentID string, rpcReq a2a.Request) (*a2a.Response, error) {
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("a2aclient: marshal request: %w", err)
	}

	url := endpoint + "/a2a/" + toAgentID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Endpoint: url, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Endpoint: url, Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &TransportError{Endpoint: url, Err: fmt.Errorf("unexpected status %d", httpResp.StatusCode)}
	}

	var rpcResp a2a.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&rpcResp); err != nil {
		return nil, &TransportError{Endpoint: url, Err: fmt.Errorf("malformed JSON-RPC envelope: %w", err)}
	}
	return &rpcResp, nil
}

// normalizeResult parses a message/send result (spec.md §4.3's Task or
// Message shape) into a Result.
func normalizeResult(raw json.RawMessage) (Result, error) {
	var t a2a.Task
	if err := json.Unmarshal(raw, &t); err == nil && t.Kind == "task" {
		return Result{
			TaskID:    t.ID,
			State:     t.Status.State,
			Response:  firstResponseText(t.Artifacts),
			Artifacts: t.Artifacts,
			Raw:       raw,
		}, nil
	}

	var m a2a.Message
	if err := json.Unmarshal(raw, &m); err == nil && m.MessageID != "" {
		return Result{Response: firstText(m.Parts), Raw: raw}, nil
	}

	return Result{}, fmt.Errorf("a2aclient: unrecognized message/send result shape")
}

func firstResponseText(artifacts []a2a.Artifact) string {
	for _, a := range artifacts {
		if a.Name != "response" {
			continue
		}
		if text := firstText(a.Parts); text != "" {
			return text
		}
	}
	return ""
}

func firstText(parts []a2a.Part) string {
	for _, p := range parts {
		if p.Kind == a2a.PartKindText && p.Text != "" {
			return p.Text
		}
	}
	return ""
}
