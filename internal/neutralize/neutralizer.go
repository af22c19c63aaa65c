// Package neutralize suspends the offending principal: role strip, maximum
// timeout, then permanent ban. Each step is attempted independently; a
// partial result (ban landed, role strip failed because the actor left) is
// the expected degraded-success outcome.
package neutralize

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"guildguard/internal/models"
)

// MaxTimeout is the longest suspension the platform accepts.
const MaxTimeout = 28 * 24 * time.Hour

// ModerationAPI is the slice of the platform command surface the neutralizer
// needs.
type ModerationAPI interface {
	IsMember(ctx context.Context, guildID, userID string) (bool, error)
	MemberRoleIDs(ctx context.Context, guildID, userID string) ([]string, error)
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error
	BanMember(ctx context.Context, guildID, userID, reason string) error
}

type Result struct {
	RolesStripped int
	TimedOut      bool
	Banned        bool
	Errors        []string
}

type Neutralizer struct {
	api ModerationAPI
	log *zap.Logger
	now func() time.Time
}

func NewNeutralizer(api ModerationAPI, log *zap.Logger) *Neutralizer {
	return &Neutralizer{api: api, log: log, now: time.Now}
}

// Neutralize runs the three suspension steps against the actor. roles is the
// guild's current role list, used to strip only roles below the bot's reach.
// The ban is issued even when the actor already left (pre-emptive ban by id).
func (n *Neutralizer) Neutralize(ctx context.Context, guild *models.GuildContext, roles []models.Role, actorID, reason string) Result {
	var res Result

	positions := make(map[string]int, len(roles))
	for _, r := range roles {
		positions[r.ID] = r.Position
	}

	member, err := n.api.IsMember(ctx, guild.ID, actorID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("membership check: %v", err))
	}

	if member {
		roleIDs, err := n.api.MemberRoleIDs(ctx, guild.ID, actorID)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("fetch member roles: %v", err))
		}
		for _, roleID := range roleIDs {
			if pos, ok := positions[roleID]; ok && pos >= guild.BotTopRolePosition {
				continue
			}
			if err := n.api.RemoveMemberRole(ctx, guild.ID, actorID, roleID); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("strip role %s: %v", roleID, err))
				continue
			}
			res.RolesStripped++
		}

		if err := n.api.TimeoutMember(ctx, guild.ID, actorID, n.now().Add(MaxTimeout)); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("timeout: %v", err))
		} else {
			res.TimedOut = true
		}
	}

	if err := n.api.BanMember(ctx, guild.ID, actorID, reason); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("ban: %v", err))
	} else {
		res.Banned = true
	}

	n.log.Warn("actor neutralized",
		zap.String("guild_id", guild.ID),
		zap.String("actor_id", actorID),
		zap.Int("roles_stripped", res.RolesStripped),
		zap.Bool("timed_out", res.TimedOut),
		zap.Bool("banned", res.Banned),
		zap.Int("errors", len(res.Errors)))
	return res
}
