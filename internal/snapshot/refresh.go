package snapshot

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunRefreshLoop refreshes every known guild on a fixed interval until the
// context is cancelled. beat is invoked once per cycle for watchdog
// heartbeating; it may be nil.
func (s *Store) RunRefreshLoop(ctx context.Context, interval time.Duration, lister TopologyLister, beat func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, gid := range s.GuildIDs() {
				if err := s.FullRefresh(ctx, gid, lister); err != nil {
					s.log.Warn("periodic snapshot refresh failed",
						zap.String("guild_id", gid), zap.Error(err))
				}
			}
			if beat != nil {
				beat()
			}
		}
	}
}
