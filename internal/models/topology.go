package models

// SDK-free views of the guild topology. The platform adapter converts
// discordgo objects into these at the boundary; nothing inside the core
// imports the SDK's types.

// Channel type values as assigned by the platform.
const (
	ChannelTypeText     = 0
	ChannelTypeVoice    = 2
	ChannelTypeCategory = 4
)

type Overwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"`
	Allow int64  `json:"allow"`
	Deny  int64  `json:"deny"`
}

type Channel struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       int         `json:"type"`
	Position   int         `json:"position"`
	ParentID   string      `json:"parent_id"`
	Topic      string      `json:"topic"`
	NSFW       bool        `json:"nsfw"`
	Bitrate    int         `json:"bitrate"`
	UserLimit  int         `json:"user_limit"`
	RateLimit  int         `json:"rate_limit_per_user"`
	Overwrites []Overwrite `json:"overwrites"`
}

func (c Channel) IsCategory() bool {
	return c.Type == ChannelTypeCategory
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Mentionable bool   `json:"mentionable"`
	Permissions int64  `json:"permissions"`
	Position    int    `json:"position"`
	Managed     bool   `json:"managed"`
}

type Webhook struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ChannelID string `json:"channel_id"`
}

// GuildContext carries the per-event facts about a guild the engine needs to
// make decisions without touching the SDK: ownership, the bot's own position
// in the role hierarchy, and the current object counts.
type GuildContext struct {
	ID                 string
	Name               string
	OwnerID            string
	EveryoneRoleID     string
	BotTopRolePosition int
	ChannelCount       int
	MemberCount        int
}
