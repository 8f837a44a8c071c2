package home

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockmesh/flock/internal/store/memstore"
)

func TestCreate_RegistersAnActiveHome(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memstore.New())
	require.NoError(t, err)

	h, err := s.Create(ctx, "worker-a", "node-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, h.Status)

	got, ok := s.Get("worker-a")
	require.True(t, ok)
	assert.Equal(t, "node-1", got.NodeID)
}

func TestGet_UnknownAgentReturnsFalse(t *testing.T) {
	s, err := Open(context.Background(), memstore.New())
	require.NoError(t, err)

	_, ok := s.Get("nobody")
	assert.False(t, ok)
}

func TestTransition_PersistsTheNewStatus(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()
	s, err := Open(ctx, kv)
	require.NoError(t, err)
	_, err = s.Create(ctx, "worker-a", "node-1")
	require.NoError(t, err)

	h, err := s.Transition(ctx, "worker-a", StatusLeased)
	require.NoError(t, err)
	assert.Equal(t, StatusLeased, h.Status)

	reopened, err := Open(ctx, kv)
	require.NoError(t, err)
	got, ok := reopened.Get("worker-a")
	require.True(t, ok)
	assert.Equal(t, StatusLeased, got.Status)
}

func TestTransition_RejectsInvalidEdgeAndUnknownAgent(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memstore.New())
	require.NoError(t, err)

	_, err = s.Transition(ctx, "nobody", StatusFrozen)
	assert.Error(t, err)

	_, err = s.Create(ctx, "worker-a", "node-1")
	require.NoError(t, err)
	_, err = s.Transition(ctx, "worker-a", StatusRetired)
	assert.Error(t, err)
}

func TestForceTransition_PersistsUnconditionally(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memstore.New())
	require.NoError(t, err)
	_, err = s.Create(ctx, "worker-a", "node-1")
	require.NoError(t, err)

	h, err := s.ForceTransition(ctx, "worker-a", StatusRetired)
	require.NoError(t, err)
	assert.Equal(t, StatusRetired, h.Status)
}
