// Package home models the on-node state container for an agent: the
// lifecycle GLOSSARY entry "Home" names (ACTIVE, LEASED, FROZEN,
// MIGRATING, RETIRED) but spec.md §3 never gives its own type, only
// inline references from the migration side-effect tables (§4.4).
// Making it an explicit state machine — rather than inlining string
// comparisons at every migration phase handler — follows the teacher's
// treatment of pkg/task.State's IsTerminal/IsPending helpers.
package home

import "fmt"

// Status is a home's lifecycle state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusLeased    Status = "LEASED"
	StatusFrozen    Status = "FROZEN"
	StatusMigrating Status = "MIGRATING"
	StatusRetired   Status = "RETIRED"
)

// IsActive reports whether the home may currently serve requests, per
// migration's initiate() precondition (spec.md §4.4).
func (s Status) IsActive() bool {
	return s == StatusActive || s == StatusLeased
}

// transitions enumerates every valid Status->Status edge used by the
// migration engine. An edge not listed here is an internal-state
// inconsistency, exactly as spec.md §4.4 requires for the phase machine.
var transitions = map[Status]map[Status]bool{
	StatusActive:    {StatusFrozen: true, StatusLeased: true},
	StatusLeased:    {StatusFrozen: true, StatusActive: true},
	StatusFrozen:    {StatusMigrating: true, StatusLeased: true, StatusRetired: true},
	StatusMigrating: {StatusFrozen: true, StatusRetired: true},
	StatusRetired:   {},
}

// Home is the mutable state container for one agent on one node.
type Home struct {
	AgentID string
	NodeID  string
	Status  Status
}

// New creates a Home in ACTIVE status.
func New(agentID, nodeID string) *Home {
	return &Home{AgentID: agentID, NodeID: nodeID, Status: StatusActive}
}

// Transition moves the home to `to`, rejecting edges not in the table.
func (h *Home) Transition(to Status) error {
	allowed := transitions[h.Status]
	if allowed == nil || !allowed[to] {
		return fmt.Errorf("home %s@%s: invalid transition %s -> %s", h.AgentID, h.NodeID, h.Status, to)
	}
	h.Status = to
	return nil
}

// ForceTransition sets the status unconditionally. Used only by
// rollback logic, which restores a home to a specific status computed
// from the migration phase rather than walking the edge table (spec.md
// §4.4's rollback rules reference a home's *current* status, not a
// fixed prior edge).
func (h *Home) ForceTransition(to Status) {
	h.Status = to
}
