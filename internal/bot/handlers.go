package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildguard/internal/models"
)

// Audit log action values correlated with gateway events.
const (
	auditChannelCreate = 10
	auditChannelDelete = 12
	auditMemberKick    = 20
	auditMemberBanAdd  = 22
	auditBotAdd        = 28
	auditRoleCreate    = 30
	auditRoleUpdate    = 31
	auditRoleDelete    = 32
	auditWebhookCreate = 50
)

const auditCacheTTL = 5 * time.Second

// auditCache stores recent audit entries so direct gateway events can be
// attributed without an extra REST call. GuildAuditLogEntryCreate usually
// arrives before the matching direct event.
type auditCache struct {
	mu      sync.RWMutex
	entries map[string]*auditCacheEntry
}

type auditCacheEntry struct {
	actorID   string
	targetID  string
	timestamp time.Time
}

func newAuditCache() *auditCache {
	return &auditCache{entries: make(map[string]*auditCacheEntry)}
}

func (c *auditCache) store(guildID string, action int, actorID, targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[guildID+":"+strconv.Itoa(action)] = &auditCacheEntry{
		actorID:   actorID,
		targetID:  targetID,
		timestamp: time.Now(),
	}
	for k, v := range c.entries {
		if time.Since(v.timestamp) > auditCacheTTL {
			delete(c.entries, k)
		}
	}
}

func (c *auditCache) get(guildID string, action int, targetID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[guildID+":"+strconv.Itoa(action)]
	if !ok || time.Since(entry.timestamp) > auditCacheTTL {
		return "", false
	}
	if targetID != "" && entry.targetID != "" && entry.targetID != targetID {
		return "", false
	}
	return entry.actorID, true
}

// resolveActor attributes an action: cache first, then one audit log fetch.
func (s *Session) resolveActor(guildID string, action int, targetID string) string {
	if actorID, ok := s.audit.get(guildID, action, targetID); ok {
		return actorID
	}

	audit, err := s.discord.GuildAuditLog(guildID, "", "", action, 5)
	if err != nil {
		s.log.Warn("audit log fetch failed",
			zap.String("guild_id", guildID), zap.Int("action", action), zap.Error(err))
		return ""
	}
	for _, entry := range audit.AuditLogEntries {
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		s.audit.store(guildID, action, entry.UserID, entry.TargetID)
		return entry.UserID
	}
	return ""
}

// guildContext assembles the decision facts from the session state cache.
func (s *Session) guildContext(guildID string) *models.GuildContext {
	gc := &models.GuildContext{ID: guildID, EveryoneRoleID: guildID}
	g, err := s.discord.State.Guild(guildID)
	if err != nil {
		return gc
	}
	gc.Name = g.Name
	gc.OwnerID = g.OwnerID
	gc.MemberCount = g.MemberCount
	gc.ChannelCount = len(g.Channels)

	member, err := s.discord.State.Member(guildID, s.selfID)
	if err != nil {
		return gc
	}
	for _, rid := range member.Roles {
		role, err := s.discord.State.Role(guildID, rid)
		if err == nil && role.Position > gc.BotTopRolePosition {
			gc.BotTopRolePosition = role.Position
		}
	}
	return gc
}

func (s *Session) track(guildID string, t models.ActionType, actorID, targetID, targetName string) {
	if guildID == "" || actorID == "" {
		return
	}
	s.engine.TrackAction(s.guildContext(guildID), models.ActionEvent{
		GuildID:    guildID,
		ActorID:    actorID,
		Type:       t,
		TargetID:   targetID,
		TargetName: targetName,
		Timestamp:  time.Now(),
	})
}

// SetupHandlers registers every gateway handler. Call after Bind, before
// Connect.
func (s *Session) SetupHandlers() {
	s.discord.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		s.log.Info("ready", zap.Int("guilds", len(r.Guilds)))
	})

	s.discord.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.engine.InitializeGuild(ctx, g.ID); err != nil {
				s.log.Error("guild initialization failed",
					zap.String("guild_id", g.ID), zap.Error(err))
			}
		}()
	})

	// The attribution source: this event names WHO performed each
	// administrative action.
	s.discord.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildAuditLogEntryCreate) {
		if e.GuildID == "" || e.ActionType == nil {
			return
		}
		s.audit.store(e.GuildID, int(*e.ActionType), e.UserID, e.TargetID)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelCreate) {
		if c.GuildID == "" {
			return
		}
		s.snaps.UpsertChannel(c.GuildID, channelModel(c.Channel))
		actorID := s.resolveActor(c.GuildID, auditChannelCreate, c.ID)
		s.track(c.GuildID, models.ActionChannelCreate, actorID, c.ID, c.Name)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
		if c.GuildID == "" {
			return
		}
		s.snaps.UpsertChannel(c.GuildID, channelModel(c.Channel))
	})

	// The snapshot keeps the deleted channel's record: that record is what
	// restoration rebuilds from.
	s.discord.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
		if c.GuildID == "" {
			return
		}
		actorID := s.resolveActor(c.GuildID, auditChannelDelete, c.ID)
		s.track(c.GuildID, models.ActionChannelDelete, actorID, c.ID, c.Name)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, r *discordgo.GuildRoleCreate) {
		if r.GuildID == "" || r.Role.Managed {
			return
		}
		s.snaps.UpsertRole(r.GuildID, roleModel(r.Role))
		actorID := s.resolveActor(r.GuildID, auditRoleCreate, r.Role.ID)
		s.track(r.GuildID, models.ActionRoleCreate, actorID, r.Role.ID, r.Role.Name)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, r *discordgo.GuildRoleUpdate) {
		if r.GuildID == "" {
			return
		}
		s.snaps.UpsertRole(r.GuildID, roleModel(r.Role))
		actorID := s.resolveActor(r.GuildID, auditRoleUpdate, r.Role.ID)
		s.track(r.GuildID, models.ActionRoleUpdate, actorID, r.Role.ID, r.Role.Name)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
		if r.GuildID == "" {
			return
		}
		name := ""
		if snap, ok := s.snaps.Role(r.GuildID, r.RoleID); ok {
			name = snap.Name
		}
		actorID := s.resolveActor(r.GuildID, auditRoleDelete, r.RoleID)
		s.track(r.GuildID, models.ActionRoleDelete, actorID, r.RoleID, name)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, b *discordgo.GuildBanAdd) {
		if b.GuildID == "" {
			return
		}
		actorID := s.resolveActor(b.GuildID, auditMemberBanAdd, b.User.ID)
		s.track(b.GuildID, models.ActionBanAdd, actorID, b.User.ID, b.User.Username)
	})

	// A member remove is a kick only when a fresh kick entry names this
	// user; plain leaves produce no audit entry.
	s.discord.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
		if m.GuildID == "" {
			return
		}
		actorID, ok := s.audit.get(m.GuildID, auditMemberKick, m.User.ID)
		if !ok {
			return
		}
		s.track(m.GuildID, models.ActionMemberKick, actorID, m.User.ID, m.User.Username)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.GuildID == "" || !m.User.Bot {
			return
		}
		actorID := s.resolveActor(m.GuildID, auditBotAdd, m.User.ID)
		s.track(m.GuildID, models.ActionBotAdd, actorID, m.User.ID, m.User.Username)
	})

	s.discord.AddHandler(func(_ *discordgo.Session, w *discordgo.WebhooksUpdate) {
		if w.GuildID == "" {
			return
		}
		actorID, ok := s.audit.get(w.GuildID, auditWebhookCreate, "")
		if !ok {
			return
		}
		s.track(w.GuildID, models.ActionWebhookCreate, actorID, w.ChannelID, "")
		go s.refreshWebhooks(w.GuildID)
	})
}

// refreshWebhooks re-lists the guild's webhooks into the snapshot after a
// webhook change.
func (s *Session) refreshWebhooks(guildID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	hooks, err := s.lister.ListWebhooks(ctx, guildID)
	if err != nil {
		s.log.Warn("webhook refresh failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	for _, h := range hooks {
		s.snaps.UpsertWebhook(guildID, h)
	}
}

func channelModel(ch *discordgo.Channel) models.Channel {
	out := models.Channel{
		ID:        ch.ID,
		Name:      ch.Name,
		Type:      int(ch.Type),
		Position:  ch.Position,
		ParentID:  ch.ParentID,
		Topic:     ch.Topic,
		NSFW:      ch.NSFW,
		Bitrate:   ch.Bitrate,
		UserLimit: ch.UserLimit,
		RateLimit: ch.RateLimitPerUser,
	}
	for _, ow := range ch.PermissionOverwrites {
		out.Overwrites = append(out.Overwrites, models.Overwrite{
			ID:    ow.ID,
			Type:  int(ow.Type),
			Allow: ow.Allow,
			Deny:  ow.Deny,
		})
	}
	return out
}

func roleModel(r *discordgo.Role) models.Role {
	return models.Role{
		ID:          r.ID,
		Name:        r.Name,
		Color:       r.Color,
		Hoist:       r.Hoist,
		Mentionable: r.Mentionable,
		Permissions: r.Permissions,
		Position:    r.Position,
		Managed:     r.Managed,
	}
}
