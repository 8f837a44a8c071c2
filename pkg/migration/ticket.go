// Package migration implements the migration engine (spec.md §4.4): a
// ticketed phase state machine that moves an agent's home from one node
// to another, with snapshot/transfer, rehydrate, and verify as
// side-effecting sub-steps and an explicit retry/rollback policy.
//
// Grounded on the teacher's pkg/task/task.go State/terminal-check shape,
// generalized from a three-state task lifecycle to the much larger
// migration phase graph, and on SnapdragonPartners-maestro's
// pkg/workspace/tempclone.go for the git-via-os/exec idiom used by
// snapshot/rehydrate.
package migration

import (
	"fmt"
	"time"
)

// Phase is one node in the migration ticket's state machine (spec.md §4.4).
type Phase string

const (
	PhaseRequested    Phase = "REQUESTED"
	PhaseAuthorized   Phase = "AUTHORIZED"
	PhaseFreezing     Phase = "FREEZING"
	PhaseFrozen       Phase = "FROZEN"
	PhaseSnapshotting Phase = "SNAPSHOTTING"
	PhaseTransferring Phase = "TRANSFERRING"
	PhaseVerifying    Phase = "VERIFYING"
	PhaseRehydrating  Phase = "REHYDRATING"
	PhaseFinalizing   Phase = "FINALIZING"
	PhaseCompleted    Phase = "COMPLETED"
	PhaseRollingBack  Phase = "ROLLING_BACK"
	PhaseAborted      Phase = "ABORTED"
)

// IsTerminal reports whether no further phase transitions are allowed.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseAborted
}

// directAbort holds the phases that abort without a rollback pass
// (spec.md §4.4: "no rollback needed").
var directAbort = map[Phase]bool{
	PhaseRequested:  true,
	PhaseAuthorized: true,
	PhaseFreezing:   true,
}

// mainPath is the forward edge each phase advances to on success.
var mainPath = map[Phase]Phase{
	PhaseRequested:    PhaseAuthorized,
	PhaseAuthorized:   PhaseFreezing,
	PhaseFreezing:     PhaseFrozen,
	PhaseFrozen:       PhaseSnapshotting,
	PhaseSnapshotting: PhaseTransferring,
	PhaseTransferring: PhaseVerifying,
	PhaseVerifying:    PhaseRehydrating,
	PhaseRehydrating:  PhaseFinalizing,
	PhaseFinalizing:   PhaseCompleted,
	PhaseRollingBack:  PhaseAborted,
}

// transitions enumerates every valid Phase->Phase edge, including the
// rollback branch from every non-terminal phase. An edge not listed here
// is an internal-state-inconsistency error (spec.md §4.4).
var transitions = buildTransitions()

func buildTransitions() map[Phase]map[Phase]bool {
	t := make(map[Phase]map[Phase]bool)
	for from, to := range mainPath {
		if t[from] == nil {
			t[from] = make(map[Phase]bool)
		}
		t[from][to] = true
	}
	for from := range mainPath {
		if from.IsTerminal() {
			continue
		}
		if directAbort[from] {
			t[from][PhaseAborted] = true
		} else {
			t[from][PhaseRollingBack] = true
		}
	}
	return t
}

// validTransition reports whether from->to is an enumerated edge.
func validTransition(from, to Phase) bool {
	allowed := transitions[from]
	return allowed != nil && allowed[to]
}

// OwnershipHolder tracks which side currently owns the agent's
// authoritative state (spec.md §4.4 "the ownership-transfer point").
type OwnershipHolder string

const (
	HolderSource OwnershipHolder = "source"
	HolderTarget OwnershipHolder = "target"
)

// WorkStateEntry captures one project directory's git state, recorded
// during snapshot and replayed during rehydrate (spec.md §4.4.1).
type WorkStateEntry struct {
	RelativePath     string   `json:"relativePath"`
	RemoteURL        string   `json:"remoteUrl"`
	Branch           string   `json:"branch"`
	CommitSHA        string   `json:"commitSha"`
	UncommittedPatch string   `json:"uncommittedPatch,omitempty"`
	UntrackedFiles   []string `json:"untrackedFiles,omitempty"`
}

// SnapshotResult is what the source side produces during
// Snapshot, attached to the ticket for Transfer/Verify/Rehydrate.
type SnapshotResult struct {
	ArchivePath string            `json:"archivePath"`
	Checksum    string            `json:"checksum"`
	SizeBytes   int64             `json:"sizeBytes"`
	WorkState   []WorkStateEntry  `json:"workState"`
}

// Ticket is the full state of one migration (spec.md §4.4).
type Ticket struct {
	MigrationID     string          `json:"migrationId"`
	AgentID         string          `json:"agentId"`
	SourceNodeID    string          `json:"sourceNodeId"`
	TargetNodeID    string          `json:"targetNodeId"`
	Reason          string          `json:"reason"`
	Phase           Phase           `json:"phase"`
	OwnershipHolder OwnershipHolder `json:"ownershipHolder"`
	Snapshot        *SnapshotResult `json:"snapshot,omitempty"`
	FailureReason   string          `json:"failureReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (t Ticket) clone() Ticket {
	if t.Snapshot != nil {
		s := *t.Snapshot
		t.Snapshot = &s
	}
	return t
}

// ErrInvalidState signals an enumerated precondition failure on
// initiate (spec.md §4.4 FREEZE_INVALID_STATE).
type ErrInvalidState struct {
	Code string
}

func (e *ErrInvalidState) Error() string { return e.Code }

// ErrInconsistentState signals an attempted transition outside the
// enumerated edge table (spec.md §4.4 INTERNAL_STATE_INCONSISTENCY).
type ErrInconsistentState struct {
	From, To Phase
}

func (e *ErrInconsistentState) Error() string {
	return fmt.Sprintf("migration: internal state inconsistency: %s -> %s is not a valid transition", e.From, e.To)
}
