// Package snapshot maintains the live in-memory copy of each guild's
// restorable topology. It is the single writer of "what existed before": the
// RestorationEngine only reads from it during a remediation run.
package snapshot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"guildguard/internal/models"
)

type ChannelSnapshot struct {
	models.Channel
	SnapshotTime time.Time
}

type RoleSnapshot struct {
	models.Role
	SnapshotTime time.Time
}

type WebhookSnapshot struct {
	models.Webhook
	SnapshotTime time.Time
}

type guildCache struct {
	channels map[string]*ChannelSnapshot
	roles    map[string]*RoleSnapshot
	webhooks map[string]*WebhookSnapshot
}

func newGuildCache() *guildCache {
	return &guildCache{
		channels: make(map[string]*ChannelSnapshot),
		roles:    make(map[string]*RoleSnapshot),
		webhooks: make(map[string]*WebhookSnapshot),
	}
}

// TopologyLister enumerates a guild's current administrative objects. The
// platform adapter implements it; tests substitute fakes.
type TopologyLister interface {
	ListChannels(ctx context.Context, guildID string) ([]models.Channel, error)
	ListRoles(ctx context.Context, guildID string) ([]models.Role, error)
	ListWebhooks(ctx context.Context, guildID string) ([]models.Webhook, error)
}

type Store struct {
	mu     sync.RWMutex
	guilds map[string]*guildCache
	log    *zap.Logger
	now    func() time.Time
}

func NewStore(log *zap.Logger) *Store {
	return &Store{
		guilds: make(map[string]*guildCache),
		log:    log,
		now:    time.Now,
	}
}

func (s *Store) cache(guildID string) *guildCache {
	if g, ok := s.guilds[guildID]; ok {
		return g
	}
	g := newGuildCache()
	s.guilds[guildID] = g
	return g
}

func (s *Store) UpsertChannel(guildID string, ch models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache(guildID).channels[ch.ID] = &ChannelSnapshot{Channel: ch, SnapshotTime: s.now()}
}

// UpsertRole caches a role snapshot, skipping the guild's @everyone role and
// platform-managed (integration-owned) roles: neither can be recreated.
func (s *Store) UpsertRole(guildID string, r models.Role) {
	if r.Managed || r.ID == guildID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache(guildID).roles[r.ID] = &RoleSnapshot{Role: r, SnapshotTime: s.now()}
}

func (s *Store) UpsertWebhook(guildID string, w models.Webhook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache(guildID).webhooks[w.ID] = &WebhookSnapshot{Webhook: w, SnapshotTime: s.now()}
}

func (s *Store) Channel(guildID, id string) (*ChannelSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return nil, false
	}
	snap, ok := g.channels[id]
	return snap, ok
}

func (s *Store) Role(guildID, id string) (*RoleSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return nil, false
	}
	snap, ok := g.roles[id]
	return snap, ok
}

func (s *Store) Webhook(guildID, id string) (*WebhookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return nil, false
	}
	snap, ok := g.webhooks[id]
	return snap, ok
}

func (s *Store) RemoveChannel(guildID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guilds[guildID]; ok {
		delete(g.channels, id)
	}
}

func (s *Store) RemoveRole(guildID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guilds[guildID]; ok {
		delete(g.roles, id)
	}
}

func (s *Store) RemoveWebhook(guildID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guilds[guildID]; ok {
		delete(g.webhooks, id)
	}
}

// Channels returns every cached channel snapshot for a guild.
func (s *Store) Channels(guildID string) []*ChannelSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return nil
	}
	out := make([]*ChannelSnapshot, 0, len(g.channels))
	for _, snap := range g.channels {
		out = append(out, snap)
	}
	return out
}

func (s *Store) Roles(guildID string) []*RoleSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return nil
	}
	out := make([]*RoleSnapshot, 0, len(g.roles))
	for _, snap := range g.roles {
		out = append(out, snap)
	}
	return out
}

func (s *Store) Webhooks(guildID string) []*WebhookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return nil
	}
	out := make([]*WebhookSnapshot, 0, len(g.webhooks))
	for _, snap := range g.webhooks {
		out = append(out, snap)
	}
	return out
}

// FullRefresh replaces the guild's cache wholesale with the platform's
// current listings. Used at startup, on guild join, and on the refresh timer.
func (s *Store) FullRefresh(ctx context.Context, guildID string, lister TopologyLister) error {
	channels, err := lister.ListChannels(ctx, guildID)
	if err != nil {
		return err
	}
	roles, err := lister.ListRoles(ctx, guildID)
	if err != nil {
		return err
	}
	webhooks, err := lister.ListWebhooks(ctx, guildID)
	if err != nil {
		// Webhook listing needs an extra permission grant; a refresh without
		// webhooks is still better than a stale cache.
		s.log.Warn("webhook listing failed during refresh",
			zap.String("guild_id", guildID), zap.Error(err))
		webhooks = nil
	}

	fresh := newGuildCache()
	now := s.now()
	for _, ch := range channels {
		fresh.channels[ch.ID] = &ChannelSnapshot{Channel: ch, SnapshotTime: now}
	}
	for _, r := range roles {
		if r.Managed || r.ID == guildID {
			continue
		}
		fresh.roles[r.ID] = &RoleSnapshot{Role: r, SnapshotTime: now}
	}
	for _, w := range webhooks {
		fresh.webhooks[w.ID] = &WebhookSnapshot{Webhook: w, SnapshotTime: now}
	}

	s.mu.Lock()
	s.guilds[guildID] = fresh
	s.mu.Unlock()

	s.log.Debug("snapshot refreshed",
		zap.String("guild_id", guildID),
		zap.Int("channels", len(fresh.channels)),
		zap.Int("roles", len(fresh.roles)),
		zap.Int("webhooks", len(fresh.webhooks)))
	return nil
}

// GuildIDs lists guilds with a populated cache.
func (s *Store) GuildIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.guilds))
	for gid := range s.guilds {
		out = append(out, gid)
	}
	return out
}
