package migration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flockmesh/flock/pkg/a2a"
)

// Handlers implements the reserved migration/* JSON-RPC namespace
// (spec.md §4.4.4) on top of an Engine. Registered into the A2A server's
// method dispatch table by NodeID.
type Handlers struct {
	engine      *Engine
	nodeID      string
	homeDir     string
	projectsDir string
	knownNodes  map[string]bool // whitelist, nil disables the check
	capacity    int             // 0 disables the check

	snapshotter *Snapshotter
	rehydrater  Rehydrater
	verifier    Verifier

	logger *slog.Logger

	mu      sync.Mutex
	active  map[string]bool // migrationId -> true, for duplicate rejection
}

// HandlersConfig wires a Handlers instance.
type HandlersConfig struct {
	Engine      *Engine
	NodeID      string
	HomeDir     string
	ProjectsDir string
	KnownNodes  map[string]bool
	Capacity    int
	Logger      *slog.Logger
}

// NewHandlers builds the migration/* handler set for one node.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handlers{
		engine:      cfg.Engine,
		nodeID:      cfg.NodeID,
		homeDir:     cfg.HomeDir,
		projectsDir: cfg.ProjectsDir,
		knownNodes:  cfg.KnownNodes,
		capacity:    cfg.Capacity,
		snapshotter: NewSnapshotter(0),
		logger:      cfg.Logger,
		active:      make(map[string]bool),
	}
}

// requestParams mirrors migration/request's body (spec.md §4.4.4).
type requestParams struct {
	MigrationID  string `json:"migrationId"`
	AgentID      string `json:"agentId"`
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
	Reason       string `json:"reason"`
}

// Request handles `migration/request`: the target node receiving a
// migration proposal. Validates identity, capacity, and the known-node
// whitelist; rejects duplicates; creates the ticket in REQUESTED.
func (h *Handlers) Request(ctx context.Context, raw json.RawMessage) (*a2a.Response, error) {
	var p requestParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/request params"}
	}
	if p.TargetNodeID != h.nodeID {
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "target node identity mismatch"}
	}
	if h.knownNodes != nil && !h.knownNodes[p.SourceNodeID] {
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "source node not in whitelist"}
	}
	if h.capacity > 0 {
		h.mu.Lock()
		n := len(h.active)
		h.mu.Unlock()
		if n >= h.capacity {
			return nil, &a2a.Error{Code: a2a.CodeInternalError, Message: "target node at capacity"}
		}
	}

	h.mu.Lock()
	if h.active[p.MigrationID] {
		h.mu.Unlock()
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "duplicate migration request"}
	}
	h.active[p.MigrationID] = true
	h.mu.Unlock()

	ticket, err := h.engine.Initiate(ctx, p.AgentID, p.SourceNodeID, p.TargetNodeID, p.Reason)
	if err != nil {
		return nil, wrapMigrationError(err)
	}
	return okResponse(ticket)
}

// Approve handles `migration/approve`: REQUESTED -> AUTHORIZED.
func (h *Handlers) Approve(ctx context.Context, migrationID string) (*a2a.Response, error) {
	ticket, err := h.engine.AdvancePhase(ctx, migrationID)
	if err != nil {
		return nil, wrapMigrationError(err)
	}
	return okResponse(ticket)
}

// Reject handles `migration/reject`: terminate the ticket immediately.
func (h *Handlers) Reject(ctx context.Context, migrationID, reason string) (*a2a.Response, error) {
	ticket, err := h.engine.Rollback(ctx, migrationID, reason)
	if err != nil {
		return nil, wrapMigrationError(err)
	}
	h.mu.Lock()
	delete(h.active, migrationID)
	h.mu.Unlock()
	return okResponse(ticket)
}

// transferAndVerifyParams mirrors migration/transfer-and-verify's body:
// a bulk base64-encoded archive upload plus its claimed checksum.
type transferAndVerifyParams struct {
	MigrationID      string            `json:"migrationId"`
	ArchiveBase64    string            `json:"archiveBase64"`
	ExpectedChecksum string            `json:"expectedChecksum"`
	WorkState        []WorkStateEntry  `json:"workState"`
}

// TransferAndVerify handles `migration/transfer-and-verify`: decodes the
// uploaded archive, invokes VerifySnapshot, returns a VerificationResult.
func (h *Handlers) TransferAndVerify(ctx context.Context, raw json.RawMessage) (*a2a.Response, error) {
	var p transferAndVerifyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/transfer-and-verify params"}
	}

	archiveBytes, err := base64.StdEncoding.DecodeString(p.ArchiveBase64)
	if err != nil {
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid base64 archive"}
	}

	destPath := archiveStagingPath(h.homeDir, p.MigrationID)
	if err := writeStagedArchive(destPath, archiveBytes); err != nil {
		return nil, &a2a.Error{Code: a2a.CodeInternalError, Message: fmt.Sprintf("staging archive: %v", err)}
	}

	result, verr := h.verifier.VerifySnapshot(destPath, p.ExpectedChecksum)
	if verr != nil && !result.Verified {
		h.logger.Warn("migration transfer verification failed", "migrationId", p.MigrationID, "error", verr)
	}
	return okResponse(result)
}

// Verify handles `migration/verify`: the source-initiated verification
// handshake that feeds handleVerification (spec.md §4.4, §4.4.3).
func (h *Handlers) Verify(ctx context.Context, migrationID string, result VerificationResult) (*a2a.Response, error) {
	ticket, err := h.engine.HandleVerification(ctx, migrationID, result.Verified, result.FailureReason)
	if err != nil {
		return nil, wrapMigrationError(err)
	}
	return okResponse(ticket)
}

// rehydrateParams mirrors migration/rehydrate's body.
type rehydrateParams struct {
	MigrationID string           `json:"migrationId"`
	ArchivePath string           `json:"archivePath"`
	WorkState   []WorkStateEntry `json:"workState"`
}

// Rehydrate handles `migration/rehydrate`: called after verification.
func (h *Handlers) Rehydrate(ctx context.Context, raw json.RawMessage) (*a2a.Response, error) {
	var p rehydrateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid migration/rehydrate params"}
	}
	if p.ArchivePath == "" {
		// The caller (the source node, over HTTP) has no way to know
		// this node's homeDir convention; fall back to wherever
		// transfer-and-verify staged the same migrationId's archive.
		p.ArchivePath = archiveStagingPath(h.homeDir, p.MigrationID)
	}

	result, err := h.rehydrater.Rehydrate(ctx, p.ArchivePath, h.homeDir, h.projectsDir, p.WorkState)
	if err != nil {
		return nil, wrapMigrationError(err)
	}
	return okResponse(result)
}

// Complete handles `migration/complete`. Errors cleanly if no engine is
// in context — never silently falls back (spec.md §4.4.4).
func (h *Handlers) Complete(ctx context.Context, migrationID, newHomeID, newEndpoint string) (*a2a.Response, error) {
	if h.engine == nil {
		return nil, &a2a.Error{Code: a2a.CodeInternalError, Message: "migration/complete: no migration engine in context"}
	}
	ticket, err := h.engine.Complete(ctx, migrationID, newHomeID, newEndpoint)
	if err != nil {
		return nil, wrapMigrationError(err)
	}
	h.mu.Lock()
	delete(h.active, migrationID)
	h.mu.Unlock()
	return okResponse(ticket)
}

// Status handles `migration/status`.
func (h *Handlers) Status(ctx context.Context, migrationID string) (*a2a.Response, error) {
	ticket, ok := h.engine.Get(migrationID)
	if !ok {
		return nil, &a2a.Error{Code: a2a.CodeUnknownAgent, Message: "unknown migration"}
	}
	return okResponse(ticket)
}

// Abort handles `migration/abort`: direct-to-ABORTED from the three
// early phases, ROLLING_BACK -> ABORTED from downstream phases, and
// rejects from terminal states (spec.md §4.4.4).
func (h *Handlers) Abort(ctx context.Context, migrationID, reason string) (*a2a.Response, error) {
	ticket, ok := h.engine.Get(migrationID)
	if !ok {
		return nil, &a2a.Error{Code: a2a.CodeUnknownAgent, Message: "unknown migration"}
	}
	if ticket.Phase.IsTerminal() {
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "migration already terminal"}
	}

	updated, err := h.engine.Rollback(ctx, migrationID, reason)
	if err != nil {
		return nil, wrapMigrationError(err)
	}
	h.mu.Lock()
	delete(h.active, migrationID)
	h.mu.Unlock()
	return okResponse(updated)
}

// Run is the initiator wrapper for `migration/run`: kicks off a fresh
// migration and drives it with retry until it reaches a terminal phase
// or TRANSFERRING; the transfer and the target's migration/verify call
// happen outside this loop.
func (h *Handlers) Run(ctx context.Context, agentID, sourceNodeID, targetNodeID, reason string) (*a2a.Response, error) {
	ticket, err := h.engine.Initiate(ctx, agentID, sourceNodeID, targetNodeID, reason)
	if err != nil {
		return nil, wrapMigrationError(err)
	}

	for ticket.Phase != PhaseTransferring && !ticket.Phase.IsTerminal() {
		ticket, err = h.engine.AdvancePhaseWithRetry(ctx, ticket.MigrationID)
		if err != nil {
			return nil, wrapMigrationError(err)
		}
	}
	return okResponse(ticket)
}

func wrapMigrationError(err error) error {
	if code, ok := CodeOf(err); ok {
		return &a2a.Error{Code: a2a.CodeInternalError, Message: string(code), Data: err.Error()}
	}
	var inconsistent *ErrInconsistentState
	if errors.As(err, &inconsistent) {
		return &a2a.Error{Code: a2a.CodeInvalidRequest, Message: inconsistent.Error()}
	}
	var invalidState *ErrInvalidState
	if errors.As(err, &invalidState) {
		return &a2a.Error{Code: a2a.CodeInvalidRequest, Message: invalidState.Error()}
	}
	return &a2a.Error{Code: a2a.CodeInternalError, Message: err.Error()}
}

func okResponse(result any) (*a2a.Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, &a2a.Error{Code: a2a.CodeInternalError, Message: err.Error()}
	}
	return &a2a.Response{JSONRPC: "2.0", Result: data}, nil
}
