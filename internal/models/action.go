package models

import "time"

// ActionType identifies one class of administrative action observed on the
// gateway. The set is closed: Detector and RestorationEngine switch over it
// exhaustively, so adding a type is a compile-time-checked change.
type ActionType uint8

const (
	ActionUnknown ActionType = iota
	ActionChannelDelete
	ActionChannelCreate
	ActionRoleDelete
	ActionRoleCreate
	ActionBanAdd
	ActionMemberKick
	ActionWebhookCreate
	ActionRoleUpdate
	ActionBotAdd
)

func (t ActionType) String() string {
	switch t {
	case ActionChannelDelete:
		return "channel_delete"
	case ActionChannelCreate:
		return "channel_create"
	case ActionRoleDelete:
		return "role_delete"
	case ActionRoleCreate:
		return "role_create"
	case ActionBanAdd:
		return "ban_add"
	case ActionMemberKick:
		return "member_kick"
	case ActionWebhookCreate:
		return "webhook_create"
	case ActionRoleUpdate:
		return "role_update"
	case ActionBotAdd:
		return "bot_add"
	default:
		return "unknown"
	}
}

// ActionEvent is a single administrative action attributed to an actor.
// Events are ephemeral: they live only as long as the quota windows that
// evaluate them and the action list carried on a burst violation.
type ActionEvent struct {
	GuildID    string
	ActorID    string
	Type       ActionType
	TargetID   string
	TargetName string
	Timestamp  time.Time
}
