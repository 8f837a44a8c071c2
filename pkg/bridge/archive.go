package bridge

import (
	"context"
	"fmt"

	"github.com/flockmesh/flock/pkg/channel"
)

// ExternalNotifier posts a best-effort notice into an external
// platform conversation. Deactivation notices never block archival:
// ArchiveDriver ignores a returned error and continues (spec.md §4.7 archive protocol,
// §8 scenario (f)).
type ExternalNotifier func(ctx context.Context, b channel.Bridge, text string) error

// ArchiveDriver implements the archive protocol of spec.md §4.7:
// soft archiving via archive_ready consensus, or an immediate forced
// archive, both deactivating bridges and posting deactivation notices.
type ArchiveDriver struct {
	Channels *channel.Store
	Messages *channel.MessageStore
	Bridges  *channel.BridgeStore
	Notify   ExternalNotifier
}

// StartArchiving begins (or immediately completes, if force) archiving
// channelID.
func (d *ArchiveDriver) StartArchiving(ctx context.Context, channelID string, force bool) (channel.Channel, error) {
	if force {
		ch, err := d.Channels.Archive(ctx, channelID)
		if err != nil {
			return channel.Channel{}, fmt.Errorf("force-archiving channel: %w", err)
		}
		d.deactivateBridges(ctx, ch)
		return ch, nil
	}

	ch, err := d.Channels.StartArchiving(ctx, channelID)
	if err != nil {
		return channel.Channel{}, fmt.Errorf("starting archive: %w", err)
	}
	if _, err := d.Messages.Append(ctx, channelID, "system", "This channel is archiving. Agent members must call archive_ready to finish."); err != nil {
		return channel.Channel{}, fmt.Errorf("posting archive system notice: %w", err)
	}
	return ch, nil
}

// ArchiveReady records memberID's archive_ready call, deactivating
// bridges and posting deactivation notices the moment every agent
// member has called it.
func (d *ArchiveDriver) ArchiveReady(ctx context.Context, channelID, memberID string) (channel.Channel, error) {
	ch, ready, err := d.Channels.MarkArchiveReady(ctx, channelID, memberID)
	if err != nil {
		return channel.Channel{}, fmt.Errorf("recording archive_ready: %w", err)
	}
	if ready {
		d.deactivateBridges(ctx, ch)
	}
	return ch, nil
}

// deactivateBridges deactivates every active bridge on ch and attempts
// a best-effort external deactivation notice per bridge. Notice
// failures are ignored without logging: they do not block archival
// (spec.md §4.7: "failures do not block archival").
func (d *ArchiveDriver) deactivateBridges(ctx context.Context, ch channel.Channel) {
	for _, b := range d.Bridges.ByChannel(ch.ChannelID, true) {
		if d.Notify != nil {
			_ = d.Notify(ctx, b, fmt.Sprintf("Channel %q has been archived.", ch.Name))
		}
		if _, err := d.Bridges.Deactivate(ctx, b.BridgeID); err != nil {
			continue
		}
	}
}
