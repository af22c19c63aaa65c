// Package restore implements the multi-phase recovery algorithm: classify
// the attack, delete malicious objects first, restore categories before
// their children with an old→new id remap, fall back from live snapshots to
// verified backups, sweep the audit history for missed damage, and re-apply
// original ordering. Every phase optimizes for maximal partial recovery:
// platform call failures are recorded on the incident and never abort the
// remaining work.
package restore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"guildguard/internal/backup"
	"guildguard/internal/incident"
	"guildguard/internal/models"
	"guildguard/internal/snapshot"
)

// PlatformAPI is the command surface the engine drives. All mutations are
// paced by the implementation to respect platform rate limits.
type PlatformAPI interface {
	ListChannels(ctx context.Context, guildID string) ([]models.Channel, error)
	ListRoles(ctx context.Context, guildID string) ([]models.Role, error)
	CreateChannel(ctx context.Context, guildID string, ch models.Channel) (*models.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	CreateRole(ctx context.Context, guildID string, r models.Role) (*models.Role, error)
	DeleteRole(ctx context.Context, guildID, roleID string) error
	EditChannelPlacement(ctx context.Context, channelID string, position int, parentID string) error
	Unban(ctx context.Context, guildID, userID string) error
	DeleteWebhook(ctx context.Context, webhookID string) error
	AuditHistory(ctx context.Context, guildID, actorID string, since time.Time) ([]models.ActionEvent, error)
}

// BackupProvider serves persisted topology backups with integrity verdicts.
type BackupProvider interface {
	ListBackups(guildID string) ([]backup.Meta, error)
	GetBackupWithVerification(id string) (*backup.Topology, backup.Integrity, error)
}

type Engine struct {
	snapshots *snapshot.Store
	backups   BackupProvider
	api       PlatformAPI
	log       *zap.Logger
	now       func() time.Time

	warnAge        time.Duration
	rejectAge      time.Duration
	sweepWindow    time.Duration
	channelCeiling int

	// MarkSelf, when set, records each object id the engine mutates so the
	// repair lock can attribute those actions to the engine itself.
	MarkSelf func(guildID, targetID string)
}

type Options struct {
	WarnAge        time.Duration
	RejectAge      time.Duration
	SweepWindow    time.Duration
	ChannelCeiling int
}

func NewEngine(snaps *snapshot.Store, backups BackupProvider, api PlatformAPI, opts Options, log *zap.Logger) *Engine {
	if opts.WarnAge == 0 {
		opts.WarnAge = 24 * time.Hour
	}
	if opts.RejectAge == 0 {
		opts.RejectAge = 72 * time.Hour
	}
	if opts.SweepWindow == 0 {
		opts.SweepWindow = 5 * time.Minute
	}
	if opts.ChannelCeiling == 0 {
		opts.ChannelCeiling = 500
	}
	return &Engine{
		snapshots:      snaps,
		backups:        backups,
		api:            api,
		log:            log,
		now:            time.Now,
		warnAge:        opts.WarnAge,
		rejectAge:      opts.RejectAge,
		sweepWindow:    opts.SweepWindow,
		channelCeiling: opts.ChannelCeiling,
	}
}

// run carries the mutable state of one restoration pass.
type run struct {
	guild *models.GuildContext
	inc   *incident.Incident

	liveChannels []models.Channel
	liveRoles    []models.Role

	channelIDMap map[string]string // old channel id → new id
	roleIDMap    map[string]string // old role id → new id
	covered      map[string]struct{}

	backupTopo  *backup.Topology
	backupTried bool

	memCount int
	dbCount  int
}

// Run executes every phase for one violation. It never returns an error:
// everything that can fail lands on the incident as a skip or warning.
func (e *Engine) Run(ctx context.Context, guild *models.GuildContext, inc *incident.Incident, v *models.Violation) {
	r := &run{
		guild:        guild,
		inc:          inc,
		channelIDMap: make(map[string]string),
		roleIDMap:    make(map[string]string),
		covered:      make(map[string]struct{}),
	}
	e.refreshLive(ctx, r)

	p := classify(v.Actions)

	// Malicious objects go first so restored objects cannot collide with,
	// or be parented under, attacker-created duplicates.
	e.deleteMalicious(ctx, r, p)
	e.restoreRoles(ctx, r, p.deletedRoles)
	e.unbanUsers(ctx, r, p.bannedUsers)
	e.restoreChannels(ctx, r, p.deletedChannels)
	e.sweepAuditHistory(ctx, r, v)
	e.reorder(ctx, r)

	source := incident.SourceNone
	switch {
	case r.memCount > 0 && r.dbCount > 0:
		source = incident.SourceMixed
	case r.dbCount > 0:
		source = incident.SourceDatabase
	case r.memCount > 0:
		source = incident.SourceMemory
	}
	inc.SetRestoreSource(source)

	e.log.Info("restoration finished",
		zap.String("guild_id", guild.ID),
		zap.String("incident_id", inc.ID),
		zap.Int("from_memory", r.memCount),
		zap.Int("from_database", r.dbCount),
		zap.String("source", string(source)))
}

func (e *Engine) refreshLive(ctx context.Context, r *run) {
	channels, err := e.api.ListChannels(ctx, r.guild.ID)
	if err != nil {
		r.inc.AddWarning(fmt.Sprintf("list channels: %v", err))
	} else {
		r.liveChannels = channels
	}
	roles, err := e.api.ListRoles(ctx, r.guild.ID)
	if err != nil {
		r.inc.AddWarning(fmt.Sprintf("list roles: %v", err))
	} else {
		r.liveRoles = roles
	}
}

func (e *Engine) markSelf(guildID, targetID string) {
	if e.MarkSelf != nil {
		e.MarkSelf(guildID, targetID)
	}
}

// --- phase 2: delete attacker-created objects ---

func (e *Engine) deleteMalicious(ctx context.Context, r *run, p *plan) {
	for _, t := range p.createdChannels {
		r.covered[t.id] = struct{}{}
		if findChannelByID(r.liveChannels, t.id) == nil {
			r.inc.AddSkipped(incident.Item{Kind: "channel", ID: t.id, Name: t.name, Reason: "already deleted"})
			continue
		}
		e.markSelf(r.guild.ID, t.id)
		if err := e.api.DeleteChannel(ctx, t.id); err != nil {
			r.inc.AddWarning(fmt.Sprintf("delete malicious channel %s: %v", t.id, err))
			continue
		}
		r.liveChannels = removeChannel(r.liveChannels, t.id)
		r.inc.AddAction(fmt.Sprintf("deleted malicious channel %s (%s)", t.name, t.id))
	}

	for _, t := range p.createdRoles {
		r.covered[t.id] = struct{}{}
		if findRoleByID(r.liveRoles, t.id) == nil {
			r.inc.AddSkipped(incident.Item{Kind: "role", ID: t.id, Name: t.name, Reason: "already deleted"})
			continue
		}
		e.markSelf(r.guild.ID, t.id)
		if err := e.api.DeleteRole(ctx, r.guild.ID, t.id); err != nil {
			r.inc.AddWarning(fmt.Sprintf("delete malicious role %s: %v", t.id, err))
			continue
		}
		r.liveRoles = removeRole(r.liveRoles, t.id)
		r.inc.AddAction(fmt.Sprintf("deleted malicious role %s (%s)", t.name, t.id))
	}

	for _, t := range p.createdWebhooks {
		r.covered[t.id] = struct{}{}
		e.markSelf(r.guild.ID, t.id)
		if err := e.api.DeleteWebhook(ctx, t.id); err != nil {
			r.inc.AddWarning(fmt.Sprintf("delete malicious webhook %s: %v", t.id, err))
			continue
		}
		e.snapshots.RemoveWebhook(r.guild.ID, t.id)
		r.inc.AddAction(fmt.Sprintf("deleted malicious webhook %s", t.id))
	}
}

// --- role restoration ---

func (e *Engine) restoreRoles(ctx context.Context, r *run, targets []target) {
	for _, t := range targets {
		e.restoreRole(ctx, r, t)
	}
}

func (e *Engine) restoreRole(ctx context.Context, r *run, t target) {
	r.covered[t.id] = struct{}{}

	src, sourceName := e.resolveRole(r, t)
	if src == nil {
		r.inc.AddSkipped(incident.Item{Kind: "role", ID: t.id, Name: t.name, Reason: "no snapshot or backup"})
		return
	}
	if existing := findRoleByID(r.liveRoles, t.id); existing != nil {
		r.inc.AddSkipped(incident.Item{Kind: "role", ID: t.id, Name: src.Name, Reason: "already exists"})
		return
	}
	if existing := findRoleByName(r.liveRoles, src.Name); existing != nil {
		r.inc.AddSkipped(incident.Item{Kind: "role", ID: t.id, Name: src.Name, Reason: "already exists"})
		return
	}
	if reason, ok := e.canRestoreRole(r.guild, *src); !ok {
		r.inc.AddSkipped(incident.Item{Kind: "role", ID: t.id, Name: src.Name, Reason: reason})
		return
	}

	created, err := e.api.CreateRole(ctx, r.guild.ID, *src)
	if err != nil {
		r.inc.AddSkipped(incident.Item{Kind: "role", ID: t.id, Name: src.Name, Reason: fmt.Sprintf("create failed: %v", err)})
		return
	}
	e.markSelf(r.guild.ID, created.ID)
	r.roleIDMap[t.id] = created.ID
	r.liveRoles = append(r.liveRoles, *created)

	// The old id is gone for good; the recreated role gets a fresh entry.
	e.snapshots.RemoveRole(r.guild.ID, t.id)
	e.snapshots.UpsertRole(r.guild.ID, *created)

	e.countSource(r, sourceName)
	r.inc.AddRestored(incident.Item{Kind: "role", ID: created.ID, Name: created.Name, Source: sourceName})
}

func (e *Engine) canRestoreRole(guild *models.GuildContext, role models.Role) (string, bool) {
	if role.Managed {
		return "platform-managed role cannot be recreated", false
	}
	if role.ID == guild.ID || role.ID == guild.EveryoneRoleID {
		return "default everyone role cannot be recreated", false
	}
	if role.Position >= guild.BotTopRolePosition {
		return "original position at or above the bot's highest role", false
	}
	return "", true
}

// resolveRole prefers the live snapshot, falling back to the most recent
// acceptable backup.
func (e *Engine) resolveRole(r *run, t target) (*models.Role, string) {
	if snap, ok := e.snapshots.Role(r.guild.ID, t.id); ok {
		role := snap.Role
		return &role, string(incident.SourceMemory)
	}
	topo := e.resolveBackup(r)
	if topo == nil {
		return nil, ""
	}
	for i := range topo.Roles {
		if topo.Roles[i].ID == t.id || (t.name != "" && topo.Roles[i].Name == t.name) {
			role := topo.Roles[i]
			return &role, string(incident.SourceDatabase)
		}
	}
	return nil, ""
}

// --- unbans ---

func (e *Engine) unbanUsers(ctx context.Context, r *run, userIDs []string) {
	for _, uid := range userIDs {
		r.covered[uid] = struct{}{}
		if err := e.api.Unban(ctx, r.guild.ID, uid); err != nil {
			r.inc.AddSkipped(incident.Item{Kind: "unban", ID: uid, Reason: fmt.Sprintf("unban failed: %v", err)})
			continue
		}
		r.inc.AddRestored(incident.Item{Kind: "unban", ID: uid})
	}
}

// --- phases 3 and 4: categories, then channels ---

func (e *Engine) restoreChannels(ctx context.Context, r *run, targets []target) {
	type resolved struct {
		t      target
		ch     models.Channel
		source string
	}
	var categories, channels []resolved

	for _, t := range targets {
		r.covered[t.id] = struct{}{}
		src, sourceName := e.resolveChannel(r, t)
		if src == nil {
			r.inc.AddSkipped(incident.Item{Kind: "channel", ID: t.id, Name: t.name, Reason: "no snapshot or backup"})
			continue
		}
		if src.IsCategory() {
			categories = append(categories, resolved{t: t, ch: *src, source: sourceName})
		} else {
			channels = append(channels, resolved{t: t, ch: *src, source: sourceName})
		}
	}

	// Categories ascend by original position so parents re-appear in their
	// original relative order before any child needs them.
	sort.SliceStable(categories, func(i, j int) bool {
		return categories[i].ch.Position < categories[j].ch.Position
	})
	sort.SliceStable(channels, func(i, j int) bool {
		if channels[i].ch.ParentID != channels[j].ch.ParentID {
			return channels[i].ch.ParentID < channels[j].ch.ParentID
		}
		return channels[i].ch.Position < channels[j].ch.Position
	})

	for _, c := range categories {
		e.restoreChannel(ctx, r, c.t, c.ch, c.source, "category")
	}
	for _, c := range channels {
		e.restoreChannel(ctx, r, c.t, c.ch, c.source, "channel")
	}
}

func (e *Engine) restoreChannel(ctx context.Context, r *run, t target, src models.Channel, sourceName, kind string) {
	if existing := findChannelByID(r.liveChannels, t.id); existing != nil {
		r.inc.AddSkipped(incident.Item{Kind: kind, ID: t.id, Name: src.Name, Reason: "already exists"})
		return
	}
	if existing := findChannelByNameType(r.liveChannels, src.Name, src.Type); existing != nil {
		r.inc.AddSkipped(incident.Item{Kind: kind, ID: t.id, Name: src.Name, Reason: "already exists"})
		return
	}
	if len(r.liveChannels) >= e.channelCeiling {
		r.inc.AddSkipped(incident.Item{Kind: kind, ID: t.id, Name: src.Name, Reason: "guild at channel ceiling"})
		return
	}

	// Rewrite the recorded parent through the ids minted in phase 3.
	if src.ParentID != "" {
		if newID, ok := r.channelIDMap[src.ParentID]; ok {
			src.ParentID = newID
		} else if findChannelByID(r.liveChannels, src.ParentID) == nil {
			r.inc.AddWarning(fmt.Sprintf("channel %s: original parent %s is gone, restoring at root", src.Name, src.ParentID))
			src.ParentID = ""
		}
	}
	src.Overwrites = remapOverwrites(src.Overwrites, r.roleIDMap)

	created, err := e.api.CreateChannel(ctx, r.guild.ID, src)
	if err != nil {
		r.inc.AddSkipped(incident.Item{Kind: kind, ID: t.id, Name: src.Name, Reason: fmt.Sprintf("create failed: %v", err)})
		return
	}
	e.markSelf(r.guild.ID, created.ID)
	r.channelIDMap[t.id] = created.ID
	r.liveChannels = append(r.liveChannels, *created)

	e.snapshots.RemoveChannel(r.guild.ID, t.id)
	e.snapshots.UpsertChannel(r.guild.ID, *created)

	e.countSource(r, sourceName)
	r.inc.AddRestored(incident.Item{Kind: kind, ID: created.ID, Name: created.Name, Source: sourceName})
}

func (e *Engine) resolveChannel(r *run, t target) (*models.Channel, string) {
	if snap, ok := e.snapshots.Channel(r.guild.ID, t.id); ok {
		ch := snap.Channel
		return &ch, string(incident.SourceMemory)
	}
	topo := e.resolveBackup(r)
	if topo == nil {
		return nil, ""
	}
	for i := range topo.Channels {
		if topo.Channels[i].ID == t.id || (t.name != "" && topo.Channels[i].Name == t.name) {
			ch := topo.Channels[i]
			return &ch, string(incident.SourceDatabase)
		}
	}
	return nil, ""
}

// resolveBackup picks the most recent acceptable backup exactly once per
// run. Integrity failures and stale backups are rejected with a recorded
// reason; legacy pre-checksum backups are accepted with a warning.
func (e *Engine) resolveBackup(r *run) *backup.Topology {
	if r.backupTried {
		return r.backupTopo
	}
	r.backupTried = true

	metas, err := e.backups.ListBackups(r.guild.ID)
	if err != nil {
		r.inc.AddWarning(fmt.Sprintf("list backups: %v", err))
		return nil
	}

	now := e.now()
	for _, meta := range metas {
		age := now.Sub(meta.CreatedAt)
		if age > e.rejectAge {
			// Newest-first ordering: everything after this is older still.
			r.inc.AddWarning(fmt.Sprintf("backup %s rejected: age %s exceeds staleness ceiling", meta.ID, age.Round(time.Minute)))
			break
		}

		topo, integ, err := e.backups.GetBackupWithVerification(meta.ID)
		if err != nil {
			r.inc.AddWarning(fmt.Sprintf("backup %s unavailable: %v", meta.ID, err))
			continue
		}
		if !integ.Valid && !integ.Legacy {
			r.inc.AddWarning(fmt.Sprintf("backup %s rejected: integrity verification failed (%s)", meta.ID, integ.Reason))
			continue
		}
		if integ.Legacy {
			r.inc.AddWarning(fmt.Sprintf("backup %s accepted without checksum: %s", meta.ID, integ.Reason))
		}
		if age > e.warnAge {
			r.inc.AddWarning(fmt.Sprintf("backup %s is %s old", meta.ID, age.Round(time.Minute)))
		}

		r.backupTopo = topo
		r.inc.SetBackup(meta.ID, age)
		return topo
	}
	return nil
}

func (e *Engine) countSource(r *run, sourceName string) {
	if sourceName == string(incident.SourceDatabase) {
		r.dbCount++
	} else {
		r.memCount++
	}
}

// --- phase 5: audit sweep ---

// sweepAuditHistory queries the platform's administrative audit history for
// the attacker within the sweep window and handles anything phases 1–4 did
// not cover, catching damage the burst window missed.
func (e *Engine) sweepAuditHistory(ctx context.Context, r *run, v *models.Violation) {
	since := v.DetectedAt.Add(-e.sweepWindow)
	entries, err := e.api.AuditHistory(ctx, r.guild.ID, r.inc.AttackerID, since)
	if err != nil {
		r.inc.AddWarning(fmt.Sprintf("audit sweep: %v", err))
		return
	}

	for _, entry := range entries {
		if _, done := r.covered[entry.TargetID]; done {
			continue
		}
		t := target{id: entry.TargetID, name: entry.TargetName}
		switch entry.Type {
		case models.ActionChannelDelete:
			r.covered[t.id] = struct{}{}
			if src, sourceName := e.resolveChannel(r, t); src != nil {
				kind := "channel"
				if src.IsCategory() {
					kind = "category"
				}
				e.restoreChannel(ctx, r, t, *src, sourceName, kind)
			} else {
				r.inc.AddSkipped(incident.Item{Kind: "channel", ID: t.id, Name: t.name, Reason: "no snapshot or backup"})
			}
		case models.ActionChannelCreate:
			r.covered[t.id] = struct{}{}
			if findChannelByID(r.liveChannels, t.id) == nil {
				continue
			}
			e.markSelf(r.guild.ID, t.id)
			if err := e.api.DeleteChannel(ctx, t.id); err != nil {
				r.inc.AddWarning(fmt.Sprintf("sweep delete channel %s: %v", t.id, err))
				continue
			}
			r.liveChannels = removeChannel(r.liveChannels, t.id)
			r.inc.AddAction(fmt.Sprintf("swept malicious channel %s (%s)", t.name, t.id))
		case models.ActionRoleDelete:
			e.restoreRole(ctx, r, t)
		case models.ActionRoleCreate:
			r.covered[t.id] = struct{}{}
			if findRoleByID(r.liveRoles, t.id) == nil {
				continue
			}
			e.markSelf(r.guild.ID, t.id)
			if err := e.api.DeleteRole(ctx, r.guild.ID, t.id); err != nil {
				r.inc.AddWarning(fmt.Sprintf("sweep delete role %s: %v", t.id, err))
				continue
			}
			r.liveRoles = removeRole(r.liveRoles, t.id)
			r.inc.AddAction(fmt.Sprintf("swept malicious role %s (%s)", t.name, t.id))
		case models.ActionBanAdd:
			e.unbanUsers(ctx, r, []string{t.id})
		case models.ActionWebhookCreate:
			r.covered[t.id] = struct{}{}
			e.markSelf(r.guild.ID, t.id)
			if err := e.api.DeleteWebhook(ctx, t.id); err != nil {
				r.inc.AddWarning(fmt.Sprintf("sweep delete webhook %s: %v", t.id, err))
				continue
			}
			r.inc.AddAction(fmt.Sprintf("swept malicious webhook %s", t.id))
		case models.ActionMemberKick, models.ActionRoleUpdate, models.ActionBotAdd, models.ActionUnknown:
		}
	}
}

// --- phase 6: reorder ---

// reorder re-applies original relative ordering after all creations:
// categories first by snapshot position, then channels, re-parenting any
// channel whose live parent differs from its snapshot. Best-effort per
// channel.
func (e *Engine) reorder(ctx context.Context, r *run) {
	if len(r.channelIDMap) == 0 {
		return
	}

	snaps := e.snapshots.Channels(r.guild.ID)
	sort.SliceStable(snaps, func(i, j int) bool {
		ci, cj := snaps[i].IsCategory(), snaps[j].IsCategory()
		if ci != cj {
			return ci
		}
		return snaps[i].Position < snaps[j].Position
	})

	for _, desired := range snaps {
		live := findChannelByID(r.liveChannels, desired.ID)
		if live == nil {
			continue
		}
		wantParent := desired.ParentID
		if newID, ok := r.channelIDMap[wantParent]; ok {
			wantParent = newID
		}
		if live.Position == desired.Position && live.ParentID == wantParent {
			continue
		}
		if err := e.api.EditChannelPlacement(ctx, desired.ID, desired.Position, wantParent); err != nil {
			r.inc.AddWarning(fmt.Sprintf("reorder channel %s: %v", desired.ID, err))
			continue
		}
	}
}

// --- lookup helpers ---

func findChannelByID(channels []models.Channel, id string) *models.Channel {
	for i := range channels {
		if channels[i].ID == id {
			return &channels[i]
		}
	}
	return nil
}

func findChannelByNameType(channels []models.Channel, name string, chType int) *models.Channel {
	for i := range channels {
		if channels[i].Name == name && channels[i].Type == chType {
			return &channels[i]
		}
	}
	return nil
}

func findRoleByID(roles []models.Role, id string) *models.Role {
	for i := range roles {
		if roles[i].ID == id {
			return &roles[i]
		}
	}
	return nil
}

func findRoleByName(roles []models.Role, name string) *models.Role {
	for i := range roles {
		if roles[i].Name == name {
			return &roles[i]
		}
	}
	return nil
}

func removeChannel(channels []models.Channel, id string) []models.Channel {
	for i := range channels {
		if channels[i].ID == id {
			return append(channels[:i], channels[i+1:]...)
		}
	}
	return channels
}

func removeRole(roles []models.Role, id string) []models.Role {
	for i := range roles {
		if roles[i].ID == id {
			return append(roles[:i], roles[i+1:]...)
		}
	}
	return roles
}

func remapOverwrites(ows []models.Overwrite, roleIDMap map[string]string) []models.Overwrite {
	if len(ows) == 0 || len(roleIDMap) == 0 {
		return ows
	}
	out := make([]models.Overwrite, len(ows))
	copy(out, ows)
	for i := range out {
		if newID, ok := roleIDMap[out[i].ID]; ok {
			out[i].ID = newID
		}
	}
	return out
}
