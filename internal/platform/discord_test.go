package platform

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"guildguard/internal/models"
)

func TestSnowflakeTime(t *testing.T) {
	// 175928847299117063 is the documented example snowflake:
	// 2016-04-30 11:18:25.796 UTC.
	got := SnowflakeTime("175928847299117063")
	want := time.Date(2016, 4, 30, 11, 18, 25, 796_000_000, time.UTC)
	assert.True(t, got.Equal(want), "got %s", got.UTC())
}

func TestSnowflakeTimeRejectsNonNumeric(t *testing.T) {
	assert.True(t, SnowflakeTime("not-a-snowflake").IsZero())
	assert.True(t, SnowflakeTime("").IsZero())
}

func TestActionFromAudit(t *testing.T) {
	cases := map[discordgo.AuditLogAction]models.ActionType{
		discordgo.AuditLogAction(auditChannelDelete): models.ActionChannelDelete,
		discordgo.AuditLogAction(auditChannelCreate): models.ActionChannelCreate,
		discordgo.AuditLogAction(auditMemberKick):    models.ActionMemberKick,
		discordgo.AuditLogAction(auditMemberBanAdd):  models.ActionBanAdd,
		discordgo.AuditLogAction(auditRoleCreate):    models.ActionRoleCreate,
		discordgo.AuditLogAction(auditRoleDelete):    models.ActionRoleDelete,
		discordgo.AuditLogAction(auditWebhookCreate): models.ActionWebhookCreate,
	}
	for action, want := range cases {
		a := action
		assert.Equal(t, want, actionFromAudit(&a))
	}
	assert.Equal(t, models.ActionUnknown, actionFromAudit(nil))
	other := discordgo.AuditLogAction(1)
	assert.Equal(t, models.ActionUnknown, actionFromAudit(&other))
}

func TestAuditEntryNamePrefersOldValue(t *testing.T) {
	key := discordgo.AuditLogChangeKeyName
	entry := &discordgo.AuditLogEntry{Changes: []*discordgo.AuditLogChange{
		{Key: &key, OldValue: "general", NewValue: "renamed"},
	}}
	assert.Equal(t, "general", auditEntryName(entry))

	// Deletions carry only the old name; creations only the new one.
	entry = &discordgo.AuditLogEntry{Changes: []*discordgo.AuditLogChange{
		{Key: &key, NewValue: "fresh"},
	}}
	assert.Equal(t, "fresh", auditEntryName(entry))

	assert.Empty(t, auditEntryName(&discordgo.AuditLogEntry{}))
}

func TestChannelConversionRoundtrip(t *testing.T) {
	sdk := &discordgo.Channel{
		ID:       "c1",
		Name:     "general",
		Type:     discordgo.ChannelTypeGuildText,
		Position: 3,
		ParentID: "cat1",
		Topic:    "talk",
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: "r1", Type: discordgo.PermissionOverwriteTypeRole, Allow: 1024, Deny: 2048},
		},
	}

	ch := channelFromSDK(sdk)
	assert.Equal(t, models.ChannelTypeText, ch.Type)
	assert.Equal(t, "cat1", ch.ParentID)
	assert.Equal(t, []models.Overwrite{{ID: "r1", Type: 0, Allow: 1024, Deny: 2048}}, ch.Overwrites)

	back := overwritesToSDK(ch.Overwrites)
	assert.Len(t, back, 1)
	assert.Equal(t, int64(1024), back[0].Allow)
	assert.Nil(t, overwritesToSDK(nil))
}

func TestRoleConversion(t *testing.T) {
	r := roleFromSDK(&discordgo.Role{
		ID: "r1", Name: "mods", Permissions: 1 << 28, Position: 5, Managed: true,
	})
	assert.Equal(t, int64(1<<28), r.Permissions)
	assert.True(t, r.Managed)
}
