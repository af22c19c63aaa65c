package restore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guildguard/internal/backup"
	"guildguard/internal/incident"
	"guildguard/internal/models"
	"guildguard/internal/snapshot"
)

type placement struct {
	channelID string
	position  int
	parentID  string
}

type fakeAPI struct {
	channels []models.Channel
	roles    []models.Role

	nextID          int
	createdChannels []models.Channel
	createdRoles    []models.Role
	deletedChannels []string
	deletedRoles    []string
	deletedWebhooks []string
	unbanned        []string
	placements      []placement
	audit           []models.ActionEvent

	unbanErr     error
	createErrFor map[string]error // channel name -> forced CreateChannel error
}

func (f *fakeAPI) ListChannels(context.Context, string) ([]models.Channel, error) {
	return f.channels, nil
}

func (f *fakeAPI) ListRoles(context.Context, string) ([]models.Role, error) {
	return f.roles, nil
}

func (f *fakeAPI) CreateChannel(_ context.Context, _ string, ch models.Channel) (*models.Channel, error) {
	if err := f.createErrFor[ch.Name]; err != nil {
		return nil, err
	}
	f.nextID++
	ch.ID = fmt.Sprintf("new-ch-%d", f.nextID)
	f.createdChannels = append(f.createdChannels, ch)
	return &ch, nil
}

func (f *fakeAPI) DeleteChannel(_ context.Context, channelID string) error {
	f.deletedChannels = append(f.deletedChannels, channelID)
	return nil
}

func (f *fakeAPI) CreateRole(_ context.Context, _ string, r models.Role) (*models.Role, error) {
	f.nextID++
	r.ID = fmt.Sprintf("new-role-%d", f.nextID)
	f.createdRoles = append(f.createdRoles, r)
	return &r, nil
}

func (f *fakeAPI) DeleteRole(_ context.Context, _, roleID string) error {
	f.deletedRoles = append(f.deletedRoles, roleID)
	return nil
}

func (f *fakeAPI) EditChannelPlacement(_ context.Context, channelID string, position int, parentID string) error {
	f.placements = append(f.placements, placement{channelID: channelID, position: position, parentID: parentID})
	return nil
}

func (f *fakeAPI) Unban(_ context.Context, _, userID string) error {
	if f.unbanErr != nil {
		return f.unbanErr
	}
	f.unbanned = append(f.unbanned, userID)
	return nil
}

func (f *fakeAPI) DeleteWebhook(_ context.Context, webhookID string) error {
	f.deletedWebhooks = append(f.deletedWebhooks, webhookID)
	return nil
}

func (f *fakeAPI) AuditHistory(context.Context, string, string, time.Time) ([]models.ActionEvent, error) {
	return f.audit, nil
}

type fakeBackups struct {
	metas map[string][]backup.Meta
	topos map[string]*backup.Topology
	integ map[string]backup.Integrity
}

func (f *fakeBackups) ListBackups(guildID string) ([]backup.Meta, error) {
	return f.metas[guildID], nil
}

func (f *fakeBackups) GetBackupWithVerification(id string) (*backup.Topology, backup.Integrity, error) {
	integ, ok := f.integ[id]
	if !ok {
		integ = backup.Integrity{Valid: true}
	}
	topo := f.topos[id]
	if !integ.Valid && !integ.Legacy {
		return nil, integ, nil
	}
	return topo, integ, nil
}

func newTestEngine(t *testing.T, api *fakeAPI, backups *fakeBackups) (*Engine, *snapshot.Store) {
	t.Helper()
	if backups == nil {
		backups = &fakeBackups{}
	}
	snaps := snapshot.NewStore(zap.NewNop())
	e := NewEngine(snaps, backups, api, Options{}, zap.NewNop())
	return e, snaps
}

func newIncident() *incident.Incident {
	return &incident.Incident{Record: incident.Record{
		ID:         "inc-1",
		GuildID:    "g1",
		AttackerID: "attacker",
	}}
}

func burstViolation(actions ...models.ActionEvent) *models.Violation {
	return &models.Violation{
		Type:       models.ViolationBurst,
		Count:      len(actions),
		Limit:      2,
		DetectedAt: time.Now(),
		Actions:    actions,
	}
}

func guild() *models.GuildContext {
	return &models.GuildContext{ID: "g1", EveryoneRoleID: "g1", BotTopRolePosition: 10}
}

func TestRestoresCategoryBeforeChildWithParentRemap(t *testing.T) {
	api := &fakeAPI{}
	e, snaps := newTestEngine(t, api, nil)

	snaps.UpsertChannel("g1", models.Channel{ID: "cat1", Name: "community", Type: models.ChannelTypeCategory, Position: 0})
	snaps.UpsertChannel("g1", models.Channel{ID: "chan1", Name: "general", Type: models.ChannelTypeText, Position: 1, ParentID: "cat1"})

	inc := newIncident()
	// Child listed before parent: ordering must come from classification,
	// not event order.
	v := burstViolation(
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"},
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "cat1", TargetName: "community"},
	)
	e.Run(context.Background(), guild(), inc, v)

	require.Len(t, api.createdChannels, 2)
	assert.Equal(t, models.ChannelTypeCategory, api.createdChannels[0].Type)
	assert.Equal(t, "community", api.createdChannels[0].Name)
	assert.Equal(t, "general", api.createdChannels[1].Name)
	// The child's recorded parent id was rewritten to the recreated
	// category's new id.
	assert.Equal(t, "new-ch-1", api.createdChannels[1].ParentID)

	rec := inc.Snapshot()
	assert.Equal(t, incident.SourceMemory, rec.RestoreSource)
	assert.Len(t, rec.ItemsRestored, 2)
	assert.Empty(t, rec.ItemsSkipped)
}

func TestSkipsChannelThatAlreadyExists(t *testing.T) {
	api := &fakeAPI{channels: []models.Channel{{ID: "chan1", Name: "general", Type: models.ChannelTypeText}}}
	e, snaps := newTestEngine(t, api, nil)
	snaps.UpsertChannel("g1", models.Channel{ID: "chan1", Name: "general", Type: models.ChannelTypeText})

	inc := newIncident()
	v := burstViolation(models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"})
	e.Run(context.Background(), guild(), inc, v)

	assert.Empty(t, api.createdChannels)
	rec := inc.Snapshot()
	require.Len(t, rec.ItemsSkipped, 1)
	assert.Equal(t, "already exists", rec.ItemsSkipped[0].Reason)
	assert.Equal(t, incident.SourceNone, rec.RestoreSource)
}

func TestDeletesMaliciousObjectsBeforeRestoring(t *testing.T) {
	// The attacker deleted #general and recreated an impostor with the same
	// name. The impostor must go first or the name collision would block
	// the restore.
	api := &fakeAPI{channels: []models.Channel{{ID: "evil", Name: "general", Type: models.ChannelTypeText}}}
	e, snaps := newTestEngine(t, api, nil)
	snaps.UpsertChannel("g1", models.Channel{ID: "chan1", Name: "general", Type: models.ChannelTypeText})

	inc := newIncident()
	v := burstViolation(
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"},
		models.ActionEvent{Type: models.ActionChannelCreate, TargetID: "evil", TargetName: "general"},
	)
	e.Run(context.Background(), guild(), inc, v)

	assert.Equal(t, []string{"evil"}, api.deletedChannels)
	require.Len(t, api.createdChannels, 1)
	assert.Equal(t, "general", api.createdChannels[0].Name)
}

func TestRoleRestoreFallsBackToBackup(t *testing.T) {
	api := &fakeAPI{}
	backups := &fakeBackups{
		metas: map[string][]backup.Meta{"g1": {{ID: "b1", GuildID: "g1", CreatedAt: time.Now().Add(-time.Hour)}}},
		topos: map[string]*backup.Topology{"b1": {
			GuildID: "g1",
			Roles:   []models.Role{{ID: "r1", Name: "mods", Position: 3}},
		}},
	}
	e, _ := newTestEngine(t, api, backups)

	inc := newIncident()
	v := burstViolation(models.ActionEvent{Type: models.ActionRoleDelete, TargetID: "r1", TargetName: "mods"})
	e.Run(context.Background(), guild(), inc, v)

	require.Len(t, api.createdRoles, 1)
	assert.Equal(t, "mods", api.createdRoles[0].Name)
	rec := inc.Snapshot()
	assert.Equal(t, incident.SourceDatabase, rec.RestoreSource)
	assert.Equal(t, "b1", rec.BackupID)
}

func TestMixedSourceWhenSnapshotAndBackupBothServe(t *testing.T) {
	api := &fakeAPI{}
	backups := &fakeBackups{
		metas: map[string][]backup.Meta{"g1": {{ID: "b1", GuildID: "g1", CreatedAt: time.Now().Add(-time.Hour)}}},
		topos: map[string]*backup.Topology{"b1": {
			GuildID:  "g1",
			Channels: []models.Channel{{ID: "chan2", Name: "logs", Type: models.ChannelTypeText}},
		}},
	}
	e, snaps := newTestEngine(t, api, backups)
	snaps.UpsertChannel("g1", models.Channel{ID: "chan1", Name: "general", Type: models.ChannelTypeText})

	inc := newIncident()
	v := burstViolation(
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"},
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "chan2", TargetName: "logs"},
	)
	e.Run(context.Background(), guild(), inc, v)

	assert.Len(t, api.createdChannels, 2)
	assert.Equal(t, incident.SourceMixed, inc.Snapshot().RestoreSource)
}

func TestStaleBackupRejected(t *testing.T) {
	api := &fakeAPI{}
	backups := &fakeBackups{
		metas: map[string][]backup.Meta{"g1": {{ID: "b1", GuildID: "g1", CreatedAt: time.Now().Add(-100 * time.Hour)}}},
		topos: map[string]*backup.Topology{"b1": {
			GuildID: "g1",
			Roles:   []models.Role{{ID: "r1", Name: "mods"}},
		}},
	}
	e, _ := newTestEngine(t, api, backups)

	inc := newIncident()
	v := burstViolation(models.ActionEvent{Type: models.ActionRoleDelete, TargetID: "r1", TargetName: "mods"})
	e.Run(context.Background(), guild(), inc, v)

	assert.Empty(t, api.createdRoles)
	rec := inc.Snapshot()
	require.Len(t, rec.ItemsSkipped, 1)
	assert.Equal(t, "no snapshot or backup", rec.ItemsSkipped[0].Reason)
	assert.NotEmpty(t, rec.Warnings)
}

func TestCorruptBackupSkippedForOlderValidOne(t *testing.T) {
	api := &fakeAPI{}
	backups := &fakeBackups{
		metas: map[string][]backup.Meta{"g1": {
			{ID: "corrupt", GuildID: "g1", CreatedAt: time.Now().Add(-time.Hour)},
			{ID: "good", GuildID: "g1", CreatedAt: time.Now().Add(-2 * time.Hour)},
		}},
		topos: map[string]*backup.Topology{"good": {
			GuildID: "g1",
			Roles:   []models.Role{{ID: "r1", Name: "mods", Position: 2}},
		}},
		integ: map[string]backup.Integrity{
			"corrupt": {Valid: false, Reason: "checksum mismatch"},
		},
	}
	e, _ := newTestEngine(t, api, backups)

	inc := newIncident()
	v := burstViolation(models.ActionEvent{Type: models.ActionRoleDelete, TargetID: "r1", TargetName: "mods"})
	e.Run(context.Background(), guild(), inc, v)

	require.Len(t, api.createdRoles, 1)
	rec := inc.Snapshot()
	assert.Equal(t, "good", rec.BackupID)
}

func TestLegacyBackupAcceptedWithWarning(t *testing.T) {
	api := &fakeAPI{}
	backups := &fakeBackups{
		metas: map[string][]backup.Meta{"g1": {{ID: "b1", GuildID: "g1", CreatedAt: time.Now().Add(-time.Hour)}}},
		topos: map[string]*backup.Topology{"b1": {
			GuildID: "g1",
			Roles:   []models.Role{{ID: "r1", Name: "mods", Position: 2}},
		}},
		integ: map[string]backup.Integrity{
			"b1": {Valid: true, Legacy: true, Reason: "backup predates integrity hashing"},
		},
	}
	e, _ := newTestEngine(t, api, backups)

	inc := newIncident()
	v := burstViolation(models.ActionEvent{Type: models.ActionRoleDelete, TargetID: "r1", TargetName: "mods"})
	e.Run(context.Background(), guild(), inc, v)

	require.Len(t, api.createdRoles, 1)
	rec := inc.Snapshot()
	require.NotEmpty(t, rec.Warnings)
	assert.Contains(t, rec.Warnings[0], "without checksum")
}

func TestChannelCeilingBlocksRestore(t *testing.T) {
	api := &fakeAPI{channels: []models.Channel{
		{ID: "a", Name: "a", Type: models.ChannelTypeText},
		{ID: "b", Name: "b", Type: models.ChannelTypeText},
	}}
	backups := &fakeBackups{}
	snaps := snapshot.NewStore(zap.NewNop())
	e := NewEngine(snaps, backups, api, Options{ChannelCeiling: 2}, zap.NewNop())
	snaps.UpsertChannel("g1", models.Channel{ID: "chan1", Name: "general", Type: models.ChannelTypeText})

	inc := newIncident()
	v := burstViolation(models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"})
	e.Run(context.Background(), guild(), inc, v)

	assert.Empty(t, api.createdChannels)
	rec := inc.Snapshot()
	require.Len(t, rec.ItemsSkipped, 1)
	assert.Equal(t, "guild at channel ceiling", rec.ItemsSkipped[0].Reason)
}

func TestUnbansVictims(t *testing.T) {
	api := &fakeAPI{}
	e, _ := newTestEngine(t, api, nil)

	inc := newIncident()
	v := burstViolation(
		models.ActionEvent{Type: models.ActionBanAdd, TargetID: "victim1"},
		models.ActionEvent{Type: models.ActionBanAdd, TargetID: "victim2"},
	)
	e.Run(context.Background(), guild(), inc, v)

	assert.ElementsMatch(t, []string{"victim1", "victim2"}, api.unbanned)
	assert.Len(t, inc.Snapshot().ItemsRestored, 2)
}

func TestOneFailedChannelRestoreDoesNotAbortTheRest(t *testing.T) {
	api := &fakeAPI{createErrFor: map[string]error{"beta": fmt.Errorf("rate limited")}}
	e, snaps := newTestEngine(t, api, nil)
	snaps.UpsertChannel("g1", models.Channel{ID: "c-a", Name: "alpha", Type: models.ChannelTypeText})
	snaps.UpsertChannel("g1", models.Channel{ID: "c-b", Name: "beta", Type: models.ChannelTypeText})
	snaps.UpsertChannel("g1", models.Channel{ID: "c-c", Name: "gamma", Type: models.ChannelTypeText})

	inc := newIncident()
	v := burstViolation(
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "c-a", TargetName: "alpha"},
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "c-b", TargetName: "beta"},
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "c-c", TargetName: "gamma"},
	)
	e.Run(context.Background(), guild(), inc, v)

	require.Len(t, api.createdChannels, 2)
	assert.Equal(t, "alpha", api.createdChannels[0].Name)
	assert.Equal(t, "gamma", api.createdChannels[1].Name)

	rec := inc.Snapshot()
	assert.Len(t, rec.ItemsRestored, 2)
	require.Len(t, rec.ItemsSkipped, 1)
	assert.Equal(t, "c-b", rec.ItemsSkipped[0].ID)
	assert.Contains(t, rec.ItemsSkipped[0].Reason, "create failed")
	assert.Equal(t, incident.SourceMemory, rec.RestoreSource)
}

func TestFailedUnbanRecordedAndRestoreContinues(t *testing.T) {
	api := &fakeAPI{unbanErr: fmt.Errorf("unknown ban")}
	e, snaps := newTestEngine(t, api, nil)
	snaps.UpsertChannel("g1", models.Channel{ID: "chan1", Name: "general", Type: models.ChannelTypeText})

	inc := newIncident()
	v := burstViolation(
		models.ActionEvent{Type: models.ActionBanAdd, TargetID: "victim1"},
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"},
	)
	e.Run(context.Background(), guild(), inc, v)

	assert.Empty(t, api.unbanned)
	require.Len(t, api.createdChannels, 1)

	rec := inc.Snapshot()
	require.Len(t, rec.ItemsSkipped, 1)
	assert.Equal(t, "victim1", rec.ItemsSkipped[0].ID)
	assert.Contains(t, rec.ItemsSkipped[0].Reason, "unban failed")
	require.Len(t, rec.ItemsRestored, 1)
	assert.Equal(t, "general", rec.ItemsRestored[0].Name)
}

func TestAuditSweepCoversCumulativeViolation(t *testing.T) {
	// A cumulative violation carries no action list; everything comes from
	// the audit sweep.
	api := &fakeAPI{audit: []models.ActionEvent{
		{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"},
		{Type: models.ActionBanAdd, TargetID: "victim1"},
	}}
	e, snaps := newTestEngine(t, api, nil)
	snaps.UpsertChannel("g1", models.Channel{ID: "chan1", Name: "general", Type: models.ChannelTypeText})

	inc := newIncident()
	v := &models.Violation{
		Type:       models.ViolationCumulative,
		Action:     models.ActionChannelDelete,
		Count:      6,
		Limit:      5,
		Quota:      models.QuotaHourly,
		DetectedAt: time.Now(),
	}
	e.Run(context.Background(), guild(), inc, v)

	require.Len(t, api.createdChannels, 1)
	assert.Equal(t, "general", api.createdChannels[0].Name)
	assert.Equal(t, []string{"victim1"}, api.unbanned)
}

func TestAuditSweepSkipsAlreadyCoveredTargets(t *testing.T) {
	api := &fakeAPI{audit: []models.ActionEvent{
		{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"},
	}}
	e, snaps := newTestEngine(t, api, nil)
	snaps.UpsertChannel("g1", models.Channel{ID: "chan1", Name: "general", Type: models.ChannelTypeText})

	inc := newIncident()
	v := burstViolation(models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"})
	e.Run(context.Background(), guild(), inc, v)

	// Restored once in the main pass; the sweep saw the same target and
	// left it alone.
	assert.Len(t, api.createdChannels, 1)
}

func TestMarkSelfRecordsEngineMutations(t *testing.T) {
	api := &fakeAPI{channels: []models.Channel{{ID: "evil", Name: "spam", Type: models.ChannelTypeText}}}
	e, snaps := newTestEngine(t, api, nil)
	snaps.UpsertChannel("g1", models.Channel{ID: "chan1", Name: "general", Type: models.ChannelTypeText})

	var marked []string
	e.MarkSelf = func(_, targetID string) { marked = append(marked, targetID) }

	inc := newIncident()
	v := burstViolation(
		models.ActionEvent{Type: models.ActionChannelDelete, TargetID: "chan1", TargetName: "general"},
		models.ActionEvent{Type: models.ActionChannelCreate, TargetID: "evil", TargetName: "spam"},
	)
	e.Run(context.Background(), guild(), inc, v)

	assert.Contains(t, marked, "evil")
	assert.Contains(t, marked, "new-ch-1")
}

func TestClassify(t *testing.T) {
	p := classify([]models.ActionEvent{
		{Type: models.ActionChannelDelete, TargetID: "c1"},
		{Type: models.ActionChannelCreate, TargetID: "c2"},
		{Type: models.ActionRoleDelete, TargetID: "r1"},
		{Type: models.ActionRoleCreate, TargetID: "r2"},
		{Type: models.ActionBanAdd, TargetID: "u1"},
		{Type: models.ActionWebhookCreate, TargetID: "w1"},
		{Type: models.ActionMemberKick, TargetID: "u2"},
	})

	assert.Equal(t, []target{{id: "c1"}}, p.deletedChannels)
	assert.Equal(t, []target{{id: "c2"}}, p.createdChannels)
	assert.Equal(t, []target{{id: "r1"}}, p.deletedRoles)
	assert.Equal(t, []target{{id: "r2"}}, p.createdRoles)
	assert.Equal(t, []string{"u1"}, p.bannedUsers)
	assert.Equal(t, []target{{id: "w1"}}, p.createdWebhooks)
}
