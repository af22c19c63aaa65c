// Package platform is the single boundary between the engine and discordgo.
// Everything crossing it is converted to the SDK-free model types, and every
// mutation passes through one rate limiter so remediation bursts cannot trip
// the platform's own abuse protection.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"guildguard/internal/models"
)

// Audit log action values on the wire.
const (
	auditChannelCreate = 10
	auditChannelDelete = 12
	auditMemberKick    = 20
	auditMemberBanAdd  = 22
	auditRoleCreate    = 30
	auditRoleDelete    = 32
	auditWebhookCreate = 50
)

const discordEpochMs = 1420070400000

// Adapter wraps a discordgo session behind the narrow interfaces the core
// packages consume.
type Adapter struct {
	session *discordgo.Session
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewAdapter(session *discordgo.Session, mutationsPerSecond float64, log *zap.Logger) *Adapter {
	if mutationsPerSecond <= 0 {
		mutationsPerSecond = 3
	}
	return &Adapter{
		session: session,
		limiter: rate.NewLimiter(rate.Limit(mutationsPerSecond), int(mutationsPerSecond)),
		log:     log,
	}
}

// pace blocks until the limiter grants one mutation slot.
func (a *Adapter) pace(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// --- topology reads ---

func (a *Adapter) ListChannels(ctx context.Context, guildID string) ([]models.Channel, error) {
	chs, err := a.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list channels %s: %w", guildID, err)
	}
	out := make([]models.Channel, 0, len(chs))
	for _, ch := range chs {
		out = append(out, channelFromSDK(ch))
	}
	return out, nil
}

func (a *Adapter) ListRoles(ctx context.Context, guildID string) ([]models.Role, error) {
	roles, err := a.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list roles %s: %w", guildID, err)
	}
	out := make([]models.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, roleFromSDK(r))
	}
	return out, nil
}

func (a *Adapter) ListWebhooks(ctx context.Context, guildID string) ([]models.Webhook, error) {
	hooks, err := a.session.GuildWebhooks(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list webhooks %s: %w", guildID, err)
	}
	out := make([]models.Webhook, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, models.Webhook{ID: h.ID, Name: h.Name, ChannelID: h.ChannelID})
	}
	return out, nil
}

// --- topology mutations ---

func (a *Adapter) CreateChannel(ctx context.Context, guildID string, ch models.Channel) (*models.Channel, error) {
	if err := a.pace(ctx); err != nil {
		return nil, err
	}
	data := discordgo.GuildChannelCreateData{
		Name:                 ch.Name,
		Type:                 discordgo.ChannelType(ch.Type),
		Topic:                ch.Topic,
		Bitrate:              ch.Bitrate,
		UserLimit:            ch.UserLimit,
		RateLimitPerUser:     ch.RateLimit,
		Position:             ch.Position,
		ParentID:             ch.ParentID,
		NSFW:                 ch.NSFW,
		PermissionOverwrites: overwritesToSDK(ch.Overwrites),
	}
	created, err := a.session.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create channel %q: %w", ch.Name, err)
	}
	out := channelFromSDK(created)
	return &out, nil
}

func (a *Adapter) DeleteChannel(ctx context.Context, channelID string) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	if _, err := a.session.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	return nil
}

func (a *Adapter) CreateRole(ctx context.Context, guildID string, r models.Role) (*models.Role, error) {
	if err := a.pace(ctx); err != nil {
		return nil, err
	}
	params := &discordgo.RoleParams{
		Name:        r.Name,
		Color:       &r.Color,
		Hoist:       &r.Hoist,
		Permissions: &r.Permissions,
		Mentionable: &r.Mentionable,
	}
	created, err := a.session.GuildRoleCreate(guildID, params, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create role %q: %w", r.Name, err)
	}
	out := roleFromSDK(created)
	return &out, nil
}

func (a *Adapter) DeleteRole(ctx context.Context, guildID, roleID string) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	if err := a.session.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete role %s: %w", roleID, err)
	}
	return nil
}

func (a *Adapter) SetRolePermissions(ctx context.Context, guildID, roleID string, permissions int64) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	params := &discordgo.RoleParams{Permissions: &permissions}
	if _, err := a.session.GuildRoleEdit(guildID, roleID, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit role %s permissions: %w", roleID, err)
	}
	return nil
}

func (a *Adapter) EditChannelPlacement(ctx context.Context, channelID string, position int, parentID string) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	edit := &discordgo.ChannelEdit{Position: &position, ParentID: parentID}
	if _, err := a.session.ChannelEditComplex(channelID, edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit channel %s placement: %w", channelID, err)
	}
	return nil
}

func (a *Adapter) Unban(ctx context.Context, guildID, userID string) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	if err := a.session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("unban %s: %w", userID, err)
	}
	return nil
}

func (a *Adapter) DeleteWebhook(ctx context.Context, webhookID string) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	if err := a.session.WebhookDelete(webhookID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete webhook %s: %w", webhookID, err)
	}
	return nil
}

// --- moderation ---

func (a *Adapter) IsMember(ctx context.Context, guildID, userID string) (bool, error) {
	_, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil &&
		restErr.Message.Code == discordgo.ErrCodeUnknownMember {
		return false, nil
	}
	return false, fmt.Errorf("member lookup %s: %w", userID, err)
}

func (a *Adapter) MemberRoleIDs(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("member lookup %s: %w", userID, err)
	}
	return member.Roles, nil
}

func (a *Adapter) RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	if err := a.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("remove role %s from %s: %w", roleID, userID, err)
	}
	return nil
}

func (a *Adapter) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	if err := a.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("timeout %s: %w", userID, err)
	}
	return nil
}

func (a *Adapter) BanMember(ctx context.Context, guildID, userID, reason string) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	if err := a.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("ban %s: %w", userID, err)
	}
	return nil
}

// --- audit history ---

// AuditHistory pages backwards through the guild's audit log and returns the
// actor's tracked administrative actions newer than since, newest first.
func (a *Adapter) AuditHistory(ctx context.Context, guildID, actorID string, since time.Time) ([]models.ActionEvent, error) {
	var out []models.ActionEvent
	beforeID := ""
	for {
		page, err := a.session.GuildAuditLog(guildID, actorID, beforeID, 0, 100, discordgo.WithContext(ctx))
		if err != nil {
			return out, fmt.Errorf("audit log %s: %w", guildID, err)
		}
		if len(page.AuditLogEntries) == 0 {
			return out, nil
		}
		for _, entry := range page.AuditLogEntries {
			ts := SnowflakeTime(entry.ID)
			if ts.Before(since) {
				return out, nil
			}
			t := actionFromAudit(entry.ActionType)
			if t == models.ActionUnknown {
				continue
			}
			out = append(out, models.ActionEvent{
				GuildID:    guildID,
				ActorID:    entry.UserID,
				Type:       t,
				TargetID:   entry.TargetID,
				TargetName: auditEntryName(entry),
				Timestamp:  ts,
			})
		}
		beforeID = page.AuditLogEntries[len(page.AuditLogEntries)-1].ID
	}
}

func actionFromAudit(t *discordgo.AuditLogAction) models.ActionType {
	if t == nil {
		return models.ActionUnknown
	}
	switch int(*t) {
	case auditChannelCreate:
		return models.ActionChannelCreate
	case auditChannelDelete:
		return models.ActionChannelDelete
	case auditMemberKick:
		return models.ActionMemberKick
	case auditMemberBanAdd:
		return models.ActionBanAdd
	case auditRoleCreate:
		return models.ActionRoleCreate
	case auditRoleDelete:
		return models.ActionRoleDelete
	case auditWebhookCreate:
		return models.ActionWebhookCreate
	default:
		return models.ActionUnknown
	}
}

// auditEntryName digs the object's name out of the entry's change set.
// Deletions carry it as the old value, creations as the new one.
func auditEntryName(entry *discordgo.AuditLogEntry) string {
	for _, change := range entry.Changes {
		if change.Key == nil || *change.Key != discordgo.AuditLogChangeKeyName {
			continue
		}
		if s, ok := change.OldValue.(string); ok && s != "" {
			return s
		}
		if s, ok := change.NewValue.(string); ok {
			return s
		}
	}
	return ""
}

// SnowflakeTime extracts the embedded creation timestamp from a platform id.
func SnowflakeTime(id string) time.Time {
	var n int64
	for _, c := range id {
		if c < '0' || c > '9' {
			return time.Time{}
		}
		n = n*10 + int64(c-'0')
	}
	ms := (n >> 22) + discordEpochMs
	return time.UnixMilli(ms)
}

// --- conversions ---

func channelFromSDK(ch *discordgo.Channel) models.Channel {
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

func roleFromSDK(r *discordgo.Role) models.Role {
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

func overwritesToSDK(ows []models.Overwrite) []*discordgo.PermissionOverwrite {
	if len(ows) == 0 {
		return nil
	}
	out := make([]*discordgo.PermissionOverwrite, 0, len(ows))
	for _, ow := range ows {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    ow.ID,
			Type:  discordgo.PermissionOverwriteType(ow.Type),
			Allow: ow.Allow,
			Deny:  ow.Deny,
		})
	}
	return out
}
