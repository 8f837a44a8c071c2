package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopStateTracker_DefaultsToSleep(t *testing.T) {
	tr := NewLoopStateTracker()
	assert.Equal(t, StateSleep, tr.Get("agent:x"))
}

func TestLoopStateTracker_WakeTransitionsOnceAndReportsChange(t *testing.T) {
	tr := NewLoopStateTracker()
	assert.True(t, tr.Wake("agent:x"))
	assert.Equal(t, StateAwake, tr.Get("agent:x"))
	assert.False(t, tr.Wake("agent:x"), "already-awake wake is a no-op and reports no change")
}

func TestLoopStateTracker_SleepResetsState(t *testing.T) {
	tr := NewLoopStateTracker()
	tr.Wake("agent:x")
	tr.Sleep("agent:x")
	assert.Equal(t, StateSleep, tr.Get("agent:x"))
}

func TestLoopStateTracker_AwakeAgentsListsOnlyAwake(t *testing.T) {
	tr := NewLoopStateTracker()
	tr.Wake("agent:x")
	tr.Wake("agent:y")
	tr.Sleep("agent:y")
	assert.ElementsMatch(t, []string{"agent:x"}, tr.AwakeAgents())
}
