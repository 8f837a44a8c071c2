package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockmesh/flock/internal/store/memstore"
	"github.com/flockmesh/flock/pkg/channel"
)

func newTestDriver(t *testing.T, notify ExternalNotifier) (*ArchiveDriver, channel.Channel, channel.Bridge) {
	t.Helper()
	kv := memstore.New()
	ch, err := channel.Open(context.Background(), kv)
	require.NoError(t, err)
	ms, err := channel.OpenMessageStore(context.Background(), kv)
	require.NoError(t, err)
	bs, err := channel.OpenBridgeStore(context.Background(), kv)
	require.NoError(t, err)

	c, err := ch.Create(context.Background(), "ops", "", "agent:pm")
	require.NoError(t, err)
	_, err = ch.AddMember(context.Background(), c.ChannelID, "agent:coder")
	require.NoError(t, err)
	_, err = ch.AddMember(context.Background(), c.ChannelID, "human:alice")
	require.NoError(t, err)

	b, err := bs.Create(context.Background(), c.ChannelID, "discord", "ext-1", "", "agent:pm")
	require.NoError(t, err)

	d := &ArchiveDriver{Channels: ch, Messages: ms, Bridges: bs, Notify: notify}
	return d, c, b
}

func TestStartArchiving_SoftPostsSystemNoticeAndDoesNotArchiveYet(t *testing.T) {
	d, c, _ := newTestDriver(t, nil)
	got, err := d.StartArchiving(context.Background(), c.ChannelID, false)
	require.NoError(t, err)
	assert.False(t, got.Archived)
	assert.NotNil(t, got.ArchivingStartedAt)

	msgs := d.Messages.List(c.ChannelID, 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "system", msgs[0].AgentID)
}

func TestArchiveReady_ArchivesAndDeactivatesOnceAllAgentMembersReady(t *testing.T) {
	var notified []string
	notify := func(ctx context.Context, b channel.Bridge, text string) error {
		notified = append(notified, b.BridgeID)
		return nil
	}
	d, c, b := newTestDriver(t, notify)
	_, err := d.StartArchiving(context.Background(), c.ChannelID, false)
	require.NoError(t, err)

	got, err := d.ArchiveReady(context.Background(), c.ChannelID, "agent:pm")
	require.NoError(t, err)
	assert.False(t, got.Archived)

	got, err = d.ArchiveReady(context.Background(), c.ChannelID, "agent:coder")
	require.NoError(t, err)
	assert.True(t, got.Archived)

	assert.Contains(t, notified, b.BridgeID)
	active := d.Bridges.ByChannel(c.ChannelID, true)
	assert.Empty(t, active)
}

func TestStartArchiving_ForceArchivesImmediatelyAndDeactivatesBridges(t *testing.T) {
	d, c, b := newTestDriver(t, nil)
	got, err := d.StartArchiving(context.Background(), c.ChannelID, true)
	require.NoError(t, err)
	assert.True(t, got.Archived)

	_, ok := d.Bridges.ByID(b.BridgeID)
	require.True(t, ok)
	active := d.Bridges.ByChannel(c.ChannelID, true)
	assert.Empty(t, active)
}

func TestDeactivateBridges_NotifyFailureDoesNotBlockArchival(t *testing.T) {
	notify := func(ctx context.Context, b channel.Bridge, text string) error {
		return errors.New("platform unreachable")
	}
	d, c, b := newTestDriver(t, notify)
	got, err := d.StartArchiving(context.Background(), c.ChannelID, true)
	require.NoError(t, err)
	assert.True(t, got.Archived)

	deactivated, ok := d.Bridges.ByID(b.BridgeID)
	require.True(t, ok)
	assert.False(t, deactivated.Active)
}
