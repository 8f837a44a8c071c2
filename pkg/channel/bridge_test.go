package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockmesh/flock/internal/store/memstore"
)

func TestCreate_BridgeIsActiveByDefault(t *testing.T) {
	s, err := OpenBridgeStore(context.Background(), memstore.New())
	require.NoError(t, err)

	b, err := s.Create(context.Background(), "chan-1", "discord", "ext-123", "https://hooks/x", "agent:alice")
	require.NoError(t, err)
	assert.True(t, b.Active)
	assert.Equal(t, "discord", b.Platform)
}

func TestByExternal_ReturnsAtMostOneActiveBridge(t *testing.T) {
	s, err := OpenBridgeStore(context.Background(), memstore.New())
	require.NoError(t, err)

	_, err = s.Create(context.Background(), "chan-1", "discord", "ext-123", "", "agent:alice")
	require.NoError(t, err)

	got, ok := s.ByExternal("discord", "ext-123")
	require.True(t, ok)
	assert.Equal(t, "chan-1", got.ChannelID)

	_, ok = s.ByExternal("slack", "ext-123")
	assert.False(t, ok)
}

func TestByExternal_IgnoresDeactivatedBridges(t *testing.T) {
	s, err := OpenBridgeStore(context.Background(), memstore.New())
	require.NoError(t, err)

	b, err := s.Create(context.Background(), "chan-1", "discord", "ext-123", "", "agent:alice")
	require.NoError(t, err)
	_, err = s.Deactivate(context.Background(), b.BridgeID)
	require.NoError(t, err)

	_, ok := s.ByExternal("discord", "ext-123")
	assert.False(t, ok)
}

func TestByChannel_ActiveOnlyFiltersDeactivated(t *testing.T) {
	s, err := OpenBridgeStore(context.Background(), memstore.New())
	require.NoError(t, err)

	b1, err := s.Create(context.Background(), "chan-1", "discord", "ext-1", "", "agent:alice")
	require.NoError(t, err)
	_, err = s.Create(context.Background(), "chan-1", "slack", "ext-2", "", "agent:alice")
	require.NoError(t, err)
	_, err = s.Deactivate(context.Background(), b1.BridgeID)
	require.NoError(t, err)

	all := s.ByChannel("chan-1", false)
	assert.Len(t, all, 2)

	active := s.ByChannel("chan-1", true)
	assert.Len(t, active, 1)
	assert.Equal(t, "slack", active[0].Platform)
}

func TestDeactivate_UnknownBridgeErrors(t *testing.T) {
	s, err := OpenBridgeStore(context.Background(), memstore.New())
	require.NoError(t, err)
	_, err = s.Deactivate(context.Background(), "nope")
	assert.Error(t, err)
}
