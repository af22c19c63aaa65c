package restore

import (
	"guildguard/internal/models"
)

type target struct {
	id   string
	name string
}

// plan is the phase-1 classification of a violation's action list: what the
// attacker deleted (to restore), what they created (to delete), and which
// accounts they banned (to unban).
type plan struct {
	deletedChannels []target
	createdChannels []target
	deletedRoles    []target
	createdRoles    []target
	bannedUsers     []string
	createdWebhooks []target
}

func classify(actions []models.ActionEvent) *plan {
	p := &plan{}
	for _, ev := range actions {
		t := target{id: ev.TargetID, name: ev.TargetName}
		switch ev.Type {
		case models.ActionChannelDelete:
			p.deletedChannels = append(p.deletedChannels, t)
		case models.ActionChannelCreate:
			p.createdChannels = append(p.createdChannels, t)
		case models.ActionRoleDelete:
			p.deletedRoles = append(p.deletedRoles, t)
		case models.ActionRoleCreate:
			p.createdRoles = append(p.createdRoles, t)
		case models.ActionBanAdd:
			p.bannedUsers = append(p.bannedUsers, ev.TargetID)
		case models.ActionWebhookCreate:
			p.createdWebhooks = append(p.createdWebhooks, t)
		case models.ActionMemberKick, models.ActionRoleUpdate, models.ActionBotAdd, models.ActionUnknown:
			// Kicks cannot be undone by the engine, and update/add events
			// carry no restorable object.
		}
	}
	return p
}
