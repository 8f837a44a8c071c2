package a2aserver

import (
	"context"
	"encoding/json"

	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/migration"
)

// dispatchMigrationMethod routes one migration/* method name to its
// Handlers method, unmarshalling the method-specific params shape
// (spec.md §4.4.4). Kept as a flat switch rather than a registration
// map: the method set is small, closed, and each signature differs
// enough that a uniform "raw json in, raw json out" handler type would
// just push the unmarshalling back into every call site anyway.
func dispatchMigrationMethod(ctx context.Context, h *migration.Handlers, method string, raw json.RawMessage) (*a2a.Response, error) {
	switch method {
	case "migration/request":
		return h.Request(ctx, raw)

	case "migration/approve":
		var p struct {
			MigrationID string `json:"migrationId"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/approve params"}
		}
		return h.Approve(ctx, p.MigrationID)

	case "migration/reject":
		var p struct {
			MigrationID string `json:"migrationId"`
			Reason      string `json:"reason"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/reject params"}
		}
		return h.Reject(ctx, p.MigrationID, p.Reason)

	case "migration/transfer-and-verify":
		return h.TransferAndVerify(ctx, raw)

	case "migration/verify":
		var p struct {
			MigrationID string                      `json:"migrationId"`
			Result      migration.VerificationResult `json:"result"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/verify params"}
		}
		return h.Verify(ctx, p.MigrationID, p.Result)

	case "migration/rehydrate":
		return h.Rehydrate(ctx, raw)

	case "migration/complete":
		var p struct {
			MigrationID string `json:"migrationId"`
			NewHomeID   string `json:"newHomeId"`
			NewEndpoint string `json:"newEndpoint"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/complete params"}
		}
		return h.Complete(ctx, p.MigrationID, p.NewHomeID, p.NewEndpoint)

	case "migration/status":
		var p struct {
			MigrationID string `json:"migrationId"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/status params"}
		}
		return h.Status(ctx, p.MigrationID)

	case "migration/abort":
		var p struct {
			MigrationID string `json:"migrationId"`
			Reason      string `json:"reason"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/abort params"}
		}
		return h.Abort(ctx, p.MigrationID, p.Reason)

	case "migration/run":
		var p struct {
			AgentID      string `json:"agentId"`
			SourceNodeID string `json:"sourceNodeId"`
			TargetNodeID string `json:"targetNodeId"`
			Reason       string `json:"reason"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/run params"}
		}
		return h.Run(ctx, p.AgentID, p.SourceNodeID, p.TargetNodeID, p.Reason)

	default:
		return nil, &a2a.Error{Code: a2a.CodeMethodNotFound, Message: "method not found: " + method}
	}
}
