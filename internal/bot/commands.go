package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildguard/internal/models"
)

var trackedActions = []models.ActionType{
	models.ActionChannelDelete,
	models.ActionChannelCreate,
	models.ActionRoleDelete,
	models.ActionRoleCreate,
	models.ActionBanAdd,
	models.ActionMemberKick,
	models.ActionWebhookCreate,
	models.ActionRoleUpdate,
	models.ActionBotAdd,
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	actionChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(trackedActions))
	for _, t := range trackedActions {
		actionChoices = append(actionChoices, &discordgo.ApplicationCommandOptionChoice{
			Name:  t.String(),
			Value: t.String(),
		})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "guildguard",
			Description: "Manage guild protection",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "enable",
					Description: "Enable protection",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "disable",
					Description: "Disable protection",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "status",
					Description: "Show protection status",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "whitelist",
					Description: "Manage trusted users",
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "add",
							Description: "Trust a user",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{
									Name:        "user",
									Description: "User to trust",
									Type:        discordgo.ApplicationCommandOptionUser,
									Required:    true,
								},
							},
						},
						{
							Name:        "remove",
							Description: "Revoke a user's trust",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{
									Name:        "user",
									Description: "User to revoke",
									Type:        discordgo.ApplicationCommandOptionUser,
									Required:    true,
								},
							},
						},
					},
				},
				{
					Name:        "limit",
					Description: "Override the burst limit for an action",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "action",
							Description: "Action to configure",
							Type:        discordgo.ApplicationCommandOptionString,
							Required:    true,
							Choices:     actionChoices,
						},
						{
							Name:        "limit",
							Description: "Actions allowed inside the burst window",
							Type:        discordgo.ApplicationCommandOptionInteger,
							Required:    true,
						},
					},
				},
				{
					Name:        "logchannel",
					Description: "Set the incident log channel",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "channel",
							Description: "Channel for incident reports",
							Type:        discordgo.ApplicationCommandOptionChannel,
							Required:    true,
						},
					},
				},
				{
					Name:        "quarantine",
					Description: "Activate or lift the guild-wide lockdown",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "state",
							Description: "on or off",
							Type:        discordgo.ApplicationCommandOptionString,
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "on", Value: "on"},
								{Name: "off", Value: "off"},
							},
						},
					},
				},
			},
		},
	}
}

// RegisterCommands publishes the slash command surface and attaches the
// interaction handler.
func (s *Session) RegisterCommands() error {
	s.discord.AddHandler(s.handleInteraction)
	for _, cmd := range commandDefinitions() {
		if _, err := s.discord.ApplicationCommandCreate(s.selfID, "", cmd); err != nil {
			return fmt.Errorf("register command %s: %w", cmd.Name, err)
		}
	}
	s.log.Info("slash commands registered")
	return nil
}

func (s *Session) handleInteraction(sess *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || i.GuildID == "" {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "guildguard" || len(data.Options) == 0 {
		return
	}

	if !s.callerAuthorized(i) {
		s.respond(i, "Only the guild owner or an administrator can manage protection.")
		return
	}

	sub := data.Options[0]
	var err error
	switch sub.Name {
	case "enable":
		err = s.engine.SetEnabled(i.GuildID, true)
		s.respondOr(i, err, "Protection enabled.")
	case "disable":
		err = s.engine.SetEnabled(i.GuildID, false)
		s.respondOr(i, err, "Protection disabled.")
	case "status":
		s.respond(i, s.statusText(i.GuildID))
	case "whitelist":
		err = s.handleWhitelist(i, sub)
	case "limit":
		err = s.handleLimit(i, sub)
	case "logchannel":
		err = s.handleLogChannel(i, sub)
	case "quarantine":
		err = s.handleQuarantine(i, sub)
	}

	if err != nil {
		s.log.Error("command failed",
			zap.String("command", sub.Name),
			zap.String("guild_id", i.GuildID),
			zap.Error(err))
		s.respond(i, "Command failed: "+err.Error())
	}
}

// callerAuthorized gates management commands to the owner and
// administrators.
func (s *Session) callerAuthorized(i *discordgo.InteractionCreate) bool {
	if i.Member == nil || i.Member.User == nil {
		return false
	}
	if guild, err := s.discord.State.Guild(i.GuildID); err == nil && guild.OwnerID == i.Member.User.ID {
		return true
	}
	return i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func (s *Session) handleWhitelist(i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	if len(sub.Options) == 0 || len(sub.Options[0].Options) == 0 {
		return fmt.Errorf("missing user")
	}
	op := sub.Options[0]
	user := op.Options[0].UserValue(s.discord)
	if user == nil {
		return fmt.Errorf("missing user")
	}
	switch op.Name {
	case "add":
		if err := s.engine.Whitelist(i.GuildID, user.ID); err != nil {
			return err
		}
		s.respond(i, fmt.Sprintf("<@%s> is now trusted.", user.ID))
	case "remove":
		if err := s.engine.Unwhitelist(i.GuildID, user.ID); err != nil {
			return err
		}
		s.respond(i, fmt.Sprintf("<@%s> is no longer trusted.", user.ID))
	}
	return nil
}

func (s *Session) handleLimit(i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	var actionName string
	var limit int64
	for _, opt := range sub.Options {
		switch opt.Name {
		case "action":
			actionName = opt.StringValue()
		case "limit":
			limit = opt.IntValue()
		}
	}
	t := actionTypeFromName(actionName)
	if t == models.ActionUnknown {
		return fmt.Errorf("unknown action %q", actionName)
	}
	if limit < 1 || limit > 100 {
		return fmt.Errorf("limit must be between 1 and 100")
	}
	if err := s.engine.SetThresholdOverride(i.GuildID, t, int(limit)); err != nil {
		return err
	}
	s.respond(i, fmt.Sprintf("Burst limit for %s set to %d.", actionName, limit))
	return nil
}

func (s *Session) handleLogChannel(i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	if len(sub.Options) == 0 {
		return fmt.Errorf("missing channel")
	}
	ch := sub.Options[0].ChannelValue(s.discord)
	if ch == nil {
		return fmt.Errorf("missing channel")
	}
	if err := s.engine.SetLogChannel(i.GuildID, ch.ID); err != nil {
		return err
	}
	s.respond(i, fmt.Sprintf("Incident reports will go to <#%s>.", ch.ID))
	return nil
}

func (s *Session) handleQuarantine(i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	if len(sub.Options) == 0 {
		return fmt.Errorf("missing state")
	}
	guild := s.guildContext(i.GuildID)
	callerID := i.Member.User.ID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch sub.Options[0].StringValue() {
	case "on":
		if err := s.engine.ActivateQuarantine(ctx, guild, callerID); err != nil {
			return err
		}
		s.respond(i, "Quarantine active. Dangerous permissions are suspended guild-wide.")
	case "off":
		// Lifting the lockdown restores permissions; only the owner may.
		if guild.OwnerID != callerID {
			s.respond(i, "Only the guild owner can lift quarantine.")
			return nil
		}
		if err := s.engine.DeactivateQuarantine(ctx, guild, callerID); err != nil {
			return err
		}
		s.respond(i, "Quarantine lifted. Permissions restored.")
	}
	return nil
}

func (s *Session) statusText(guildID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**GuildGuard status**\n")
	if s.engine.IsInRepairMode(guildID) {
		b.WriteString("🛠 Repair in progress\n")
	}
	if s.engine.IsInQuarantine(guildID) {
		b.WriteString("🔒 Quarantine active\n")
	}
	fmt.Fprintf(&b, "Channels snapshotted: %d\n", len(s.snaps.Channels(guildID)))
	fmt.Fprintf(&b, "Roles snapshotted: %d\n", len(s.snaps.Roles(guildID)))
	return b.String()
}

func (s *Session) respondOr(i *discordgo.InteractionCreate, err error, msg string) {
	if err != nil {
		return
	}
	s.respond(i, msg)
}

func (s *Session) respond(i *discordgo.InteractionCreate, msg string) {
	err := s.discord.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		s.log.Warn("interaction response failed", zap.Error(err))
	}
}

func actionTypeFromName(name string) models.ActionType {
	for _, t := range trackedActions {
		if t.String() == name {
			return t
		}
	}
	return models.ActionUnknown
}
