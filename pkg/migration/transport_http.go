package migration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// HTTPTransport implements Transport over the node's A2A JSON-RPC
// surface: each method is a migration/* call to the peer's
// POST /a2a/migration endpoint (spec.md §4.4.4's reserved namespace is
// intercepted ahead of per-agent dispatch, so any agentId in the path
// works; "migration" is used as a readable placeholder).
//
// Grounded on pkg/a2aclient's request-construction/response-parsing
// shape, specialized to the migration/* method set rather than
// message/send.
type HTTPTransport struct {
	HTTPClient *http.Client
}

// NewHTTPTransport returns an HTTPTransport with a sensible default
// client timeout.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{HTTPClient: &http.Client{Timeout: 5 * time.Minute}}
}

func (t *HTTPTransport) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return &http.Client{Timeout: 5 * time.Minute}
}

// TransferAndVerify uploads the source's snapshot archive to endpoint
// and returns the target's verification verdict.
func (t *HTTPTransport) TransferAndVerify(ctx context.Context, endpoint string, ticket Ticket) (bool, string, error) {
	if ticket.Snapshot == nil {
		return false, "", fmt.Errorf("migration transport: ticket %s has no snapshot to transfer", ticket.MigrationID)
	}

	data, err := os.ReadFile(ticket.Snapshot.ArchivePath)
	if err != nil {
		return false, "", fmt.Errorf("migration transport: reading snapshot archive: %w", err)
	}

	params := map[string]any{
		"migrationId":      ticket.MigrationID,
		"archiveBase64":    base64.StdEncoding.EncodeToString(data),
		"expectedChecksum": ticket.Snapshot.Checksum,
		"workState":        ticket.Snapshot.WorkState,
	}

	var result VerificationResult
	if err := t.call(ctx, endpoint, "migration/transfer-and-verify", params, &result); err != nil {
		return false, "", err
	}
	return result.Verified, result.FailureReason, nil
}

// Rehydrate tells the target to rehydrate a previously transferred
// archive (spec.md §4.4's REHYDRATING phase).
func (t *HTTPTransport) Rehydrate(ctx context.Context, endpoint string, ticket Ticket) error {
	var workState []WorkStateEntry
	if ticket.Snapshot != nil {
		workState = ticket.Snapshot.WorkState
	}
	params := map[string]any{
		"migrationId": ticket.MigrationID,
		"workState":   workState,
	}
	return t.call(ctx, endpoint, "migration/rehydrate", params, &RehydrateResult{})
}

// Notify sends a best-effort status update to endpoint. Failures are
// returned so the engine can decide how to treat them, never raised as
// a panic (spec.md §7 propagation policy).
func (t *HTTPTransport) Notify(ctx context.Context, endpoint string, event string, ticket Ticket) error {
	params := map[string]any{
		"migrationId": ticket.MigrationID,
		"event":       event,
		"phase":       ticket.Phase,
	}
	var discard json.RawMessage
	return t.call(ctx, endpoint, "migration/status", params, &discard)
}

func (t *HTTPTransport) call(ctx context.Context, endpoint, method string, params any, out any) error {
	paramBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("migration transport: marshal params: %w", err)
	}

	rpcReq := struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		ID      json.RawMessage `json:"id"`
	}{JSONRPC: "2.0", Method: method, Params: paramBytes, ID: json.RawMessage(`1`)}

	body, err := json.Marshal(rpcReq)
	if err != nil {
		return fmt.Errorf("migration transport: marshal request: %w", err)
	}

	url := endpoint + "/a2a/migration"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("migration transport: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("migration transport: calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("migration transport: %s returned status %d", url, resp.StatusCode)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("migration transport: decoding response from %s: %w", url, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("migration transport: %s: %s", method, rpcResp.Error.Message)
	}

	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("migration transport: unmarshalling %s result: %w", method, err)
	}
	return nil
}
