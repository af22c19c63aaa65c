// Package quarantine implements the emergency-wide permission strip: every
// role below the bot's reach loses exactly the dangerous bits, and gets them
// back verbatim on deactivation.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"guildguard/internal/models"
)

// Dangerous permission bits (platform wire values): administrator,
// manage-guild, manage-channels, manage-roles, ban, kick, manage-webhooks.
const (
	PermKickMembers    int64 = 1 << 1
	PermBanMembers     int64 = 1 << 2
	PermAdministrator  int64 = 1 << 3
	PermManageChannels int64 = 1 << 4
	PermManageGuild    int64 = 1 << 5
	PermManageRoles    int64 = 1 << 28
	PermManageWebhooks int64 = 1 << 29

	DangerousPermissions = PermKickMembers | PermBanMembers | PermAdministrator |
		PermManageChannels | PermManageGuild | PermManageRoles | PermManageWebhooks
)

// RoleAPI is the slice of the platform command surface quarantine needs.
type RoleAPI interface {
	ListRoles(ctx context.Context, guildID string) ([]models.Role, error)
	SetRolePermissions(ctx context.Context, guildID, roleID string, permissions int64) error
}

type State struct {
	Active      bool
	TriggeredBy string
	TriggeredAt time.Time
}

type quarState struct {
	triggeredBy string
	triggeredAt time.Time
	saved       map[string]int64 // roleID → original permission bits
}

type Controller struct {
	mu     sync.Mutex
	states map[string]*quarState
	api    RoleAPI
	log    *zap.Logger
	now    func() time.Time
}

func NewController(api RoleAPI, log *zap.Logger) *Controller {
	return &Controller{
		states: make(map[string]*quarState),
		api:    api,
		log:    log,
		now:    time.Now,
	}
}

// Activate strips the dangerous bits from every role below the bot's top
// role that currently grants any of them, saving the original bits for
// deactivation. A second activation while active is a no-op success.
// Per-role failures are collected, not fatal.
func (c *Controller) Activate(ctx context.Context, guild *models.GuildContext, triggeredBy string) error {
	c.mu.Lock()
	if _, active := c.states[guild.ID]; active {
		c.mu.Unlock()
		return nil
	}
	st := &quarState{
		triggeredBy: triggeredBy,
		triggeredAt: c.now(),
		saved:       make(map[string]int64),
	}
	c.states[guild.ID] = st
	c.mu.Unlock()

	roles, err := c.api.ListRoles(ctx, guild.ID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}

	var errs []error
	for _, r := range roles {
		if r.Managed || r.Position >= guild.BotTopRolePosition {
			continue
		}
		if r.Permissions&DangerousPermissions == 0 {
			continue
		}

		c.mu.Lock()
		st.saved[r.ID] = r.Permissions
		c.mu.Unlock()

		stripped := r.Permissions &^ DangerousPermissions
		if err := c.api.SetRolePermissions(ctx, guild.ID, r.ID, stripped); err != nil {
			errs = append(errs, fmt.Errorf("strip role %s: %w", r.ID, err))
			continue
		}
	}

	c.log.Warn("quarantine activated",
		zap.String("guild_id", guild.ID),
		zap.String("triggered_by", triggeredBy),
		zap.Int("roles_stripped", len(st.saved)),
		zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// Deactivate restores each captured role's bits verbatim and consumes the
// saved map. Per-role failures are collected, not fatal.
func (c *Controller) Deactivate(ctx context.Context, guild *models.GuildContext, authorizedBy string) error {
	c.mu.Lock()
	st, ok := c.states[guild.ID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.states, guild.ID)
	saved := st.saved
	c.mu.Unlock()

	var errs []error
	for roleID, bits := range saved {
		if err := c.api.SetRolePermissions(ctx, guild.ID, roleID, bits); err != nil {
			errs = append(errs, fmt.Errorf("restore role %s: %w", roleID, err))
		}
	}

	c.log.Info("quarantine deactivated",
		zap.String("guild_id", guild.ID),
		zap.String("authorized_by", authorizedBy),
		zap.Int("roles_restored", len(saved)),
		zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

func (c *Controller) IsActive(guildID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[guildID]
	return ok
}

func (c *Controller) Current(guildID string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[guildID]
	if !ok {
		return State{}, false
	}
	return State{Active: true, TriggeredBy: st.triggeredBy, TriggeredAt: st.triggeredAt}, true
}
