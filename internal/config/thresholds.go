package config

import (
	"time"

	"guildguard/internal/models"
)

// BurstRule is the short-window threshold for one action type. The window is
// fixed; only the limit may be overridden per guild.
type BurstRule struct {
	Limit  int
	Window time.Duration
}

var defaultBurstRules = map[models.ActionType]BurstRule{
	models.ActionChannelDelete: {Limit: 2, Window: 8 * time.Second},
	models.ActionChannelCreate: {Limit: 4, Window: 10 * time.Second},
	models.ActionRoleDelete:    {Limit: 2, Window: 8 * time.Second},
	models.ActionRoleCreate:    {Limit: 4, Window: 10 * time.Second},
	models.ActionBanAdd:        {Limit: 3, Window: 10 * time.Second},
	models.ActionMemberKick:    {Limit: 3, Window: 10 * time.Second},
	models.ActionWebhookCreate: {Limit: 3, Window: 10 * time.Second},
	models.ActionRoleUpdate:    {Limit: 3, Window: 10 * time.Second},
	models.ActionBotAdd:        {Limit: 1, Window: 5 * time.Second},
}

// BurstRuleFor resolves the effective burst rule for an action type, applying
// a per-guild limit override if one is set.
func BurstRuleFor(t models.ActionType, overrides map[models.ActionType]int) BurstRule {
	rule, ok := defaultBurstRules[t]
	if !ok {
		return BurstRule{}
	}
	if limit, ok := overrides[t]; ok && limit > 0 {
		rule.Limit = limit
	}
	return rule
}

// CumulativeLimits are the slow-burn hourly/daily ceilings. A violation is
// raised when a count strictly exceeds its limit.
type CumulativeLimits struct {
	Hourly int
	Daily  int
}

var cumulativeLimits = map[models.ActionType]CumulativeLimits{
	models.ActionChannelDelete: {Hourly: 5, Daily: 15},
	models.ActionRoleDelete:    {Hourly: 5, Daily: 15},
	models.ActionBanAdd:        {Hourly: 5, Daily: 15},
	models.ActionMemberKick:    {Hourly: 5, Daily: 15},
}

// CumulativeFor reports the cumulative limits for an action type and whether
// the type is tracked at all. Only destructive actions with slow-burn risk
// carry hourly/daily quotas.
func CumulativeFor(t models.ActionType) (CumulativeLimits, bool) {
	limits, ok := cumulativeLimits[t]
	return limits, ok
}
