// Package bridge implements the inbound half of the external-platform
// bridge (spec.md §4.7): turning a Discord/Slack event into a channel
// message, auto-membership, mention-based wakeup, and the archive
// protocol driver. Grounded on the teacher's pkg/registry.BaseRegistry
// map+mutex CRUD shape for the loop-state tracker, generalized per
// spec.md §5's "periodic scheduler that ticks AWAKE agents."
package bridge

import "sync"

// LoopState is an agent's wake/sleep status for the mesh-wide scheduler
// (spec.md §5, §8 property 10).
type LoopState string

const (
	StateSleep LoopState = "SLEEP"
	StateAwake LoopState = "AWAKE"
)

// LoopStateTracker holds the current loop-state for every known agent,
// keyed by agentId rather than per-channel: the periodic scheduler ticks
// AWAKE agents mesh-wide, independent of which channel woke them.
type LoopStateTracker struct {
	mu    sync.Mutex
	state map[string]LoopState
}

// NewLoopStateTracker builds an empty tracker. Agents default to SLEEP
// the first time they are observed.
func NewLoopStateTracker() *LoopStateTracker {
	return &LoopStateTracker{state: make(map[string]LoopState)}
}

// Get returns agentID's current state, defaulting to SLEEP for an
// agent never seen before.
func (t *LoopStateTracker) Get(agentID string) LoopState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.state[agentID]; ok {
		return s
	}
	return StateSleep
}

// Wake transitions agentID to AWAKE if it is currently SLEEP. Returns
// true if a transition occurred (spec.md §4.7 step 5, §8 property 10:
// "already-AWAKE agents... are ignored").
func (t *LoopStateTracker) Wake(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state[agentID] == StateAwake {
		return false
	}
	t.state[agentID] = StateAwake
	return true
}

// Sleep transitions agentID back to SLEEP, typically once the
// scheduler's per-tick pass finds nothing left for it to do.
func (t *LoopStateTracker) Sleep(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state[agentID] = StateSleep
}

// AwakeAgents returns every agent currently AWAKE, for the scheduler to
// tick.
func (t *LoopStateTracker) AwakeAgents() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, s := range t.state {
		if s == StateAwake {
			out = append(out, id)
		}
	}
	return out
}
