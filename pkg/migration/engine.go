package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flockmesh/flock/internal/retry"
	"github.com/flockmesh/flock/internal/store"
	"github.com/flockmesh/flock/pkg/assignment"
	"github.com/flockmesh/flock/pkg/home"
	"github.com/flockmesh/flock/pkg/metrics"
	"github.com/flockmesh/flock/pkg/noderegistry"
)

const keyPrefix = "migration/"

// Transport is how the engine reaches the target node's migration/*
// handlers. A thin interface rather than a concrete HTTP client so
// tests can substitute an in-process fake.
type Transport interface {
	TransferAndVerify(ctx context.Context, endpoint string, ticket Ticket) (verified bool, failureReason string, err error)
	Rehydrate(ctx context.Context, endpoint string, ticket Ticket) error
	Notify(ctx context.Context, endpoint string, event string, ticket Ticket) error
}

// Engine drives the migration phase state machine (spec.md §4.4).
type Engine struct {
	homes       *home.Store
	assignments *assignment.Store
	nodes       *noderegistry.Registry
	transport   Transport
	logger      *slog.Logger
	metrics     *metrics.Metrics

	kv store.KV

	mu       sync.Mutex
	tickets  map[string]Ticket
	byAgent  map[string]string // agentId -> active migrationId
}

// Config wires an Engine's collaborators.
type Config struct {
	Homes       *home.Store
	Assignments *assignment.Store
	Nodes       *noderegistry.Registry
	Transport   Transport
	Logger      *slog.Logger
	KV          store.KV
	Metrics     *metrics.Metrics
}

// Open builds an Engine, replaying any persisted tickets.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		homes:       cfg.Homes,
		assignments: cfg.Assignments,
		nodes:       cfg.Nodes,
		transport:   cfg.Transport,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		kv:          cfg.KV,
		tickets:     make(map[string]Ticket),
		byAgent:     make(map[string]string),
	}
	raw, err := cfg.KV.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading migration tickets: %w", err)
	}
	for _, v := range raw {
		var t Ticket
		if err := json.Unmarshal(v, &t); err != nil {
			continue
		}
		e.tickets[t.MigrationID] = t
		if !t.Phase.IsTerminal() {
			e.byAgent[t.AgentID] = t.MigrationID
		}
	}
	return e, nil
}

// Get returns a copy of one ticket.
func (e *Engine) Get(migrationID string) (Ticket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tickets[migrationID]
	if !ok {
		return Ticket{}, false
	}
	return t.clone(), true
}

// Initiate creates a new ticket for agentID's migration to targetNodeID
// (spec.md §4.4 initiate()).
func (e *Engine) Initiate(ctx context.Context, agentID, sourceNodeID, targetNodeID, reason string) (Ticket, error) {
	e.mu.Lock()
	if _, active := e.byAgent[agentID]; active {
		e.mu.Unlock()
		return Ticket{}, &ErrInvalidState{Code: string(CodeFreezeInvalidState)}
	}
	e.mu.Unlock()

	h, ok := e.homes.Get(agentID)
	if !ok || !h.Status.IsActive() {
		return Ticket{}, &ErrInvalidState{Code: string(CodeFreezeInvalidState)}
	}

	now := time.Now()
	t := Ticket{
		MigrationID:     uuid.New().String(),
		AgentID:         agentID,
		SourceNodeID:    sourceNodeID,
		TargetNodeID:    targetNodeID,
		Reason:          reason,
		Phase:           PhaseRequested,
		OwnershipHolder: HolderSource,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	e.mu.Lock()
	e.tickets[t.MigrationID] = t
	e.byAgent[agentID] = t.MigrationID
	active := len(e.byAgent)
	e.mu.Unlock()
	e.metrics.SetMigrationsActive(active)

	if err := e.persist(ctx, t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// AdvancePhase applies the next phase's side effects and moves the
// ticket forward along its main path (spec.md §4.4 advancePhase()).
func (e *Engine) AdvancePhase(ctx context.Context, migrationID string) (Ticket, error) {
	e.mu.Lock()
	t, ok := e.tickets[migrationID]
	e.mu.Unlock()
	if !ok {
		return Ticket{}, fmt.Errorf("migration: unknown ticket %q", migrationID)
	}

	next, ok := mainPath[t.Phase]
	if !ok || !validTransition(t.Phase, next) {
		return Ticket{}, &ErrInconsistentState{From: t.Phase, To: next}
	}

	phaseStart := t.UpdatedAt
	if err := e.applySideEffect(ctx, &t, t.Phase, next); err != nil {
		return Ticket{}, err
	}

	t.Phase = next
	t.UpdatedAt = time.Now()
	e.metrics.RecordMigrationPhase(string(next), t.UpdatedAt.Sub(phaseStart))
	return e.commit(ctx, t)
}

// AdvancePhaseWithRetry wraps AdvancePhase in the phase-appropriate
// retry policy, falling back to rollback on a non-retryable or
// exhausted error (spec.md §4.4 advancePhaseWithRetry()).
func (e *Engine) AdvancePhaseWithRetry(ctx context.Context, migrationID string) (Ticket, error) {
	result, err := e.AdvancePhase(ctx, migrationID)
	if err == nil {
		return result, nil
	}

	policy, retryable := classify(err)
	if !retryable {
		_, rbErr := e.Rollback(ctx, migrationID, err.Error())
		if rbErr != nil {
			return Ticket{}, fmt.Errorf("advance failed (%w), rollback also failed: %w", err, rbErr)
		}
		return Ticket{}, err
	}

	retryErr := retry.Do(ctx, policy, nil, func(attempt int, delay time.Duration, attemptErr error) {
		e.logger.Warn("migration retry", "migrationId", migrationID, "attempt", attempt, "delay", delay, "error", attemptErr)
	}, func() error {
		var innerErr error
		result, innerErr = e.AdvancePhase(ctx, migrationID)
		return innerErr
	})
	if retryErr != nil {
		_, rbErr := e.Rollback(ctx, migrationID, retryErr.Error())
		if rbErr != nil {
			return Ticket{}, fmt.Errorf("advance retry exhausted (%w), rollback also failed: %w", retryErr, rbErr)
		}
		return Ticket{}, retryErr
	}
	return result, nil
}

// HandleVerification is the ownership-transfer point (spec.md §4.4
// handleVerification()): verified=true atomically moves phase to
// REHYDRATING and ownershipHolder to target; verified=false rolls back.
func (e *Engine) HandleVerification(ctx context.Context, migrationID string, verified bool, failureReason string) (Ticket, error) {
	e.mu.Lock()
	t, ok := e.tickets[migrationID]
	e.mu.Unlock()
	if !ok {
		return Ticket{}, fmt.Errorf("migration: unknown ticket %q", migrationID)
	}

	if !verified {
		return e.Rollback(ctx, migrationID, failureReason)
	}

	if t.Phase != PhaseVerifying {
		return Ticket{}, &ErrInconsistentState{From: t.Phase, To: PhaseRehydrating}
	}
	if !validTransition(t.Phase, PhaseRehydrating) {
		return Ticket{}, &ErrInconsistentState{From: t.Phase, To: PhaseRehydrating}
	}

	t.Phase = PhaseRehydrating
	t.OwnershipHolder = HolderTarget
	t.UpdatedAt = time.Now()
	return e.commit(ctx, t)
}

// Rollback restores source home state per the phase-appropriate rule
// and moves the ticket to ROLLING_BACK -> ABORTED, or directly to
// ABORTED for the three early phases (spec.md §4.4 rollback()).
func (e *Engine) Rollback(ctx context.Context, migrationID, reason string) (Ticket, error) {
	e.mu.Lock()
	t, ok := e.tickets[migrationID]
	e.mu.Unlock()
	if !ok {
		return Ticket{}, fmt.Errorf("migration: unknown ticket %q", migrationID)
	}
	if t.Phase.IsTerminal() {
		return t.clone(), nil
	}

	if err := e.restoreHomeForRollback(ctx, t); err != nil {
		e.logger.Warn("migration rollback home restore failed", "migrationId", migrationID, "error", err)
	}

	t.FailureReason = reason
	t.UpdatedAt = time.Now()

	if directAbort[t.Phase] {
		t.Phase = PhaseAborted
	} else {
		if !validTransition(t.Phase, PhaseRollingBack) {
			return Ticket{}, &ErrInconsistentState{From: t.Phase, To: PhaseRollingBack}
		}
		t.Phase = PhaseRollingBack
		committed, err := e.commit(ctx, t)
		if err != nil {
			return Ticket{}, err
		}
		t = committed
		t.Phase = PhaseAborted
		t.UpdatedAt = time.Now()
	}

	e.mu.Lock()
	delete(e.byAgent, t.AgentID)
	active := len(e.byAgent)
	e.mu.Unlock()
	e.metrics.RecordMigrationOutcome("aborted")
	e.metrics.SetMigrationsActive(active)

	return e.commit(ctx, t)
}

// Complete finalizes a migration: retires the source home, moves the
// ticket to COMPLETED, and updates the registry/assignment store
// (spec.md §4.4 complete()). Valid only from REHYDRATING/FINALIZING.
func (e *Engine) Complete(ctx context.Context, migrationID, newHomeID, newEndpoint string) (Ticket, error) {
	e.mu.Lock()
	t, ok := e.tickets[migrationID]
	e.mu.Unlock()
	if !ok {
		return Ticket{}, fmt.Errorf("migration: unknown ticket %q", migrationID)
	}
	if t.Phase != PhaseRehydrating && t.Phase != PhaseFinalizing {
		return Ticket{}, &ErrInconsistentState{From: t.Phase, To: PhaseCompleted}
	}

	if t.Phase == PhaseRehydrating {
		if !validTransition(t.Phase, PhaseFinalizing) {
			return Ticket{}, &ErrInconsistentState{From: t.Phase, To: PhaseFinalizing}
		}
		t.Phase = PhaseFinalizing
	}

	if _, err := e.homes.Transition(ctx, t.AgentID, home.StatusRetired); err != nil {
		return Ticket{}, fmt.Errorf("migration: retiring source home: %w", newError(CodeFinalizeRegistryUpdateFailed, err.Error()))
	}

	if err := e.assignments.Assign(ctx, t.AgentID, t.TargetNodeID, newHomeID); err != nil {
		return Ticket{}, fmt.Errorf("migration: updating assignment: %w", newError(CodeFinalizeRegistryUpdateFailed, err.Error()))
	}
	targetEntry, _ := e.nodes.Get(t.TargetNodeID)
	e.nodes.UpdateAgents(t.TargetNodeID, appendUnique(targetEntry.AgentIDs, t.AgentID))

	if !validTransition(t.Phase, PhaseCompleted) {
		return Ticket{}, &ErrInconsistentState{From: t.Phase, To: PhaseCompleted}
	}
	t.Phase = PhaseCompleted
	t.UpdatedAt = time.Now()

	e.mu.Lock()
	delete(e.byAgent, t.AgentID)
	active := len(e.byAgent)
	e.mu.Unlock()
	e.metrics.RecordMigrationOutcome("completed")
	e.metrics.SetMigrationsActive(active)

	return e.commit(ctx, t)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// applySideEffect performs the side effect documented for the from->to
// edge in spec.md §4.4's side-effects table.
func (e *Engine) applySideEffect(ctx context.Context, t *Ticket, from, to Phase) error {
	switch {
	case from == PhaseAuthorized && to == PhaseFreezing:
		if _, err := e.homes.Transition(ctx, t.AgentID, home.StatusFrozen); err != nil {
			return newError(CodeFreezeAckTimeout, err.Error())
		}
	case from == PhaseSnapshotting && to == PhaseTransferring:
		if _, err := e.homes.Transition(ctx, t.AgentID, home.StatusMigrating); err != nil {
			return newError(CodeSnapshotArchiveFailed, err.Error())
		}
	case from == PhaseVerifying && to == PhaseRehydrating:
		// no side effect here; only HandleVerification moves ownership to the target
	}
	return nil
}

// restoreHomeForRollback applies the phase-appropriate home-state
// restoration rules (spec.md §4.4 "Rollback home-state rules").
func (e *Engine) restoreHomeForRollback(ctx context.Context, t Ticket) error {
	h, ok := e.homes.Get(t.AgentID)
	if !ok {
		return nil
	}

	switch t.Phase {
	case PhaseFreezing, PhaseFrozen, PhaseSnapshotting:
		if h.Status == home.StatusFrozen {
			_, err := e.homes.Transition(ctx, t.AgentID, home.StatusLeased)
			return err
		}
	case PhaseTransferring, PhaseVerifying:
		if h.Status == home.StatusMigrating {
			if _, err := e.homes.ForceTransition(ctx, t.AgentID, home.StatusFrozen); err != nil {
				return err
			}
			_, err := e.homes.Transition(ctx, t.AgentID, home.StatusLeased)
			return err
		}
		if h.Status == home.StatusFrozen {
			_, err := e.homes.Transition(ctx, t.AgentID, home.StatusLeased)
			return err
		}
	case PhaseRehydrating, PhaseFinalizing:
		if t.OwnershipHolder != HolderSource {
			return nil // target owns; rollback is a no-op on the source
		}
		if h.Status == home.StatusMigrating || h.Status == home.StatusFrozen {
			if h.Status == home.StatusMigrating {
				if _, err := e.homes.ForceTransition(ctx, t.AgentID, home.StatusFrozen); err != nil {
					return err
				}
			}
			_, err := e.homes.Transition(ctx, t.AgentID, home.StatusLeased)
			return err
		}
	case PhaseRequested, PhaseAuthorized:
		// no home change
	}
	return nil
}

func (e *Engine) commit(ctx context.Context, t Ticket) (Ticket, error) {
	e.mu.Lock()
	e.tickets[t.MigrationID] = t
	e.mu.Unlock()
	if err := e.persist(ctx, t); err != nil {
		return Ticket{}, err
	}
	return t.clone(), nil
}

func (e *Engine) persist(ctx context.Context, t Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshalling migration ticket: %w", err)
	}
	return e.kv.Put(ctx, keyPrefix+t.MigrationID, data)
}
