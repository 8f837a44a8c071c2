package assignment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockmesh/flock/internal/store/memstore"
)

func TestAssign_RecordsAndReplacesTheSingleAssignment(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memstore.New())
	require.NoError(t, err)

	require.NoError(t, s.Assign(ctx, "worker-a", "node-1", "agents/worker-a.json"))
	a, ok := s.Get("worker-a")
	require.True(t, ok)
	assert.Equal(t, "node-1", a.NodeID)

	require.NoError(t, s.Assign(ctx, "worker-a", "node-2", "agents/worker-a.json"))
	a, ok = s.Get("worker-a")
	require.True(t, ok)
	assert.Equal(t, "node-2", a.NodeID, "reassignment replaces rather than appending")
}

func TestGet_UnknownAgentReturnsFalse(t *testing.T) {
	s, err := Open(context.Background(), memstore.New())
	require.NoError(t, err)

	_, ok := s.Get("nobody")
	assert.False(t, ok)
}

func TestByNode_ReturnsOnlyAssignmentsOnThatNode(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memstore.New())
	require.NoError(t, err)

	require.NoError(t, s.Assign(ctx, "worker-a", "node-1", "a"))
	require.NoError(t, s.Assign(ctx, "worker-b", "node-1", "b"))
	require.NoError(t, s.Assign(ctx, "worker-c", "node-2", "c"))

	onNode1 := s.ByNode("node-1")
	assert.Len(t, onNode1, 2)
	for _, a := range onNode1 {
		assert.Equal(t, "node-1", a.NodeID)
	}
}

func TestOpen_RebuildsIndexFromExistingStore(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()

	first, err := Open(ctx, kv)
	require.NoError(t, err)
	require.NoError(t, first.Assign(ctx, "worker-a", "node-1", "a"))

	second, err := Open(ctx, kv)
	require.NoError(t, err)
	a, ok := second.Get("worker-a")
	require.True(t, ok)
	assert.Equal(t, "node-1", a.NodeID)
}
