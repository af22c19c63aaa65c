package backup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"guildguard/internal/snapshot"
)

// FromSnapshots builds a backup topology out of the live snapshot cache.
func FromSnapshots(store *snapshot.Store, guildID string) *Topology {
	topo := &Topology{GuildID: guildID}
	for _, ch := range store.Channels(guildID) {
		topo.Channels = append(topo.Channels, ch.Channel)
	}
	for _, r := range store.Roles(guildID) {
		topo.Roles = append(topo.Roles, r.Role)
	}
	for _, w := range store.Webhooks(guildID) {
		topo.Webhooks = append(topo.Webhooks, w.Webhook)
	}
	return topo
}

// RunWriteLoop periodically serializes every cached guild topology into the
// backup table until the context is cancelled.
func (s *Store) RunWriteLoop(ctx context.Context, interval time.Duration, snaps *snapshot.Store, beat func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, gid := range snaps.GuildIDs() {
				if _, err := s.Write(FromSnapshots(snaps, gid)); err != nil {
					s.log.Warn("periodic backup failed",
						zap.String("guild_id", gid), zap.Error(err))
				}
			}
			if beat != nil {
				beat()
			}
		}
	}
}
