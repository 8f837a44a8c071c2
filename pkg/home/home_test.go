package home

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsActive(t *testing.T) {
	h := New("worker-a", "node-1")
	assert.Equal(t, StatusActive, h.Status)
	assert.True(t, h.Status.IsActive())
}

func TestTransition_AllowsDocumentedEdges(t *testing.T) {
	h := New("worker-a", "node-1")

	require.NoError(t, h.Transition(StatusLeased))
	assert.Equal(t, StatusLeased, h.Status)
	assert.True(t, h.Status.IsActive())

	require.NoError(t, h.Transition(StatusFrozen))
	assert.Equal(t, StatusFrozen, h.Status)
	assert.False(t, h.Status.IsActive())

	require.NoError(t, h.Transition(StatusMigrating))
	require.NoError(t, h.Transition(StatusRetired))
}

func TestTransition_RejectsUndocumentedEdge(t *testing.T) {
	h := New("worker-a", "node-1")
	err := h.Transition(StatusRetired)
	assert.Error(t, err)
	assert.Equal(t, StatusActive, h.Status, "a rejected transition leaves status unchanged")
}

func TestTransition_RetiredIsTerminal(t *testing.T) {
	h := &Home{AgentID: "worker-a", NodeID: "node-1", Status: StatusRetired}
	err := h.Transition(StatusActive)
	assert.Error(t, err)
}

func TestForceTransition_BypassesTheEdgeTable(t *testing.T) {
	h := &Home{AgentID: "worker-a", NodeID: "node-1", Status: StatusRetired}
	h.ForceTransition(StatusActive)
	assert.Equal(t, StatusActive, h.Status)
}
