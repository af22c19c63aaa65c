package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildguard/internal/incident"
)

// Discord delivers the human-readable incident alert to a guild's configured
// log channel.
type Discord struct {
	session *discordgo.Session
	log     *zap.Logger
}

func NewDiscord(session *discordgo.Session, log *zap.Logger) *Discord {
	return &Discord{session: session, log: log}
}

// IncidentCompleted posts the incident summary embed. channelID may be empty
// when the guild has no log channel configured; that is not an error.
func (d *Discord) IncidentCompleted(channelID string, inc incident.Record) {
	if d.session == nil || channelID == "" {
		return
	}

	v := inc.Violation
	embed := &discordgo.MessageEmbed{
		Title: "🚨 Nuke Attempt Neutralized",
		Color: 0xED4245,
		Description: fmt.Sprintf("**Violation:** %s %s, %d actions (limit %d)",
			v.Type, v.Action, v.Count, v.Limit),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "👤 Attacker",
				Value:  fmt.Sprintf("<@%s> (`%s`)", inc.AttackerID, inc.AttackerID),
				Inline: true,
			},
			{
				Name:   "⚡ Response Time",
				Value:  fmt.Sprintf("**%d ms**", inc.ResponseTimeMs),
				Inline: true,
			},
			{
				Name:   "🗂 Restore Source",
				Value:  restoreSourceLabel(inc.RestoreSource),
				Inline: true,
			},
			{
				Name:   "🔧 Actions Taken",
				Value:  joinOrNone(inc.ActionsPerformed),
				Inline: false,
			},
			{
				Name: "♻️ Restoration",
				Value: fmt.Sprintf("%d restored, %d skipped",
					len(inc.ItemsRestored), len(inc.ItemsSkipped)),
				Inline: false,
			},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Incident %s", inc.ID)},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if len(inc.Warnings) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "⚠️ Warnings",
			Value:  joinOrNone(truncate(inc.Warnings, 5)),
			Inline: false,
		})
	}

	if _, err := d.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		d.log.Warn("incident alert delivery failed",
			zap.String("channel_id", channelID),
			zap.String("incident_id", inc.ID),
			zap.Error(err))
	}
}

func restoreSourceLabel(src incident.RestoreSource) string {
	switch src {
	case incident.SourceMemory:
		return "live snapshot"
	case incident.SourceDatabase:
		return "database backup"
	case incident.SourceMixed:
		return "snapshot + backup"
	default:
		return "n/a"
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, "\n")
}

func truncate(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	out := append([]string{}, items[:n]...)
	return append(out, fmt.Sprintf("… and %d more", len(items)-n))
}
