// Package engine ties detection to response. The detector scores every
// administrative action against the guild's thresholds; when one trips, the
// orchestrator runs the full pipeline: quarantine, neutralize the actor,
// restore the topology, close the incident.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"guildguard/internal/config"
	"guildguard/internal/incident"
	"guildguard/internal/metrics"
	"guildguard/internal/models"
	"guildguard/internal/neutralize"
	"guildguard/internal/notifier"
	"guildguard/internal/quarantine"
	"guildguard/internal/quota"
	"guildguard/internal/repair"
	"guildguard/internal/restore"
	"guildguard/internal/snapshot"
)

// RoleLister is the platform read needed to enumerate a guild's roles.
type RoleLister interface {
	ListRoles(ctx context.Context, guildID string) ([]models.Role, error)
}

// ProfileStore persists guild configuration changes.
type ProfileStore interface {
	PersistGuildProfile(p *config.GuildProfile) error
	AddWhitelist(guildID, userID string) error
	RemoveWhitelist(guildID, userID string) error
}

// Alerter delivers the completed incident record to the guild's log channel.
type Alerter interface {
	IncidentCompleted(channelID string, rec incident.Record)
}

// Deps are the collaborators a Service is assembled from.
type Deps struct {
	SelfID string
	// DetectionEnabled is the process-wide switch; per-guild enablement is
	// layered on top of it.
	DetectionEnabled bool
	Guilds           *config.GuildStore
	Quota            *quota.Tracker
	Repair           *repair.Lock
	Snapshots        *snapshot.Store
	Quarantine       *quarantine.Controller
	Neutralizer      *neutralize.Neutralizer
	Restorer         *restore.Engine
	Ledger           *incident.Ledger
	Profiles         ProfileStore
	Lister           snapshot.TopologyLister
	Roles            RoleLister
	Metrics          *metrics.Metrics
	Bus              *notifier.Bus
	Alerter          Alerter
	Log              *zap.Logger
}

type Service struct {
	selfID           string
	detectionEnabled bool
	guilds           *config.GuildStore
	quota            *quota.Tracker
	repair           *repair.Lock
	snaps            *snapshot.Store
	quarantine       *quarantine.Controller
	neutralizer      *neutralize.Neutralizer
	restorer         *restore.Engine
	ledger           *incident.Ledger
	profiles         ProfileStore
	lister           snapshot.TopologyLister
	roles            RoleLister
	metrics          *metrics.Metrics
	bus              *notifier.Bus
	alerter          Alerter
	log              *zap.Logger

	mu      sync.Mutex
	blocked map[string]map[string]struct{} // guildID → actor ids under response

	responseTimeout time.Duration
}

func NewService(d Deps) *Service {
	return &Service{
		selfID:           d.SelfID,
		detectionEnabled: d.DetectionEnabled,
		guilds:           d.Guilds,
		quota:            d.Quota,
		repair:           d.Repair,
		snaps:            d.Snapshots,
		quarantine:       d.Quarantine,
		neutralizer:      d.Neutralizer,
		restorer:         d.Restorer,
		ledger:           d.Ledger,
		profiles:         d.Profiles,
		lister:           d.Lister,
		roles:            d.Roles,
		metrics:          d.Metrics,
		bus:              d.Bus,
		alerter:          d.Alerter,
		log:              d.Log,
		blocked:          make(map[string]map[string]struct{}),
		responseTimeout:  5 * time.Minute,
	}
}

// InitializeGuild brings a newly joined (or newly seen) guild under
// protection: a profile is created if missing, persisted, and a full topology
// snapshot is taken.
func (s *Service) InitializeGuild(ctx context.Context, guildID string) error {
	profile := s.guilds.GetOrCreate(guildID)
	if err := s.profiles.PersistGuildProfile(profile); err != nil {
		return err
	}
	if err := s.snaps.FullRefresh(ctx, guildID, s.lister); err != nil {
		return err
	}
	s.log.Info("guild initialized", zap.String("guild_id", guildID))
	return nil
}

func (s *Service) SetEnabled(guildID string, enabled bool) error {
	s.guilds.SetEnabled(guildID, enabled)
	return s.profiles.PersistGuildProfile(s.guilds.GetOrCreate(guildID))
}

func (s *Service) Whitelist(guildID, userID string) error {
	s.guilds.AddWhitelist(guildID, userID)
	return s.profiles.AddWhitelist(guildID, userID)
}

func (s *Service) Unwhitelist(guildID, userID string) error {
	s.guilds.RemoveWhitelist(guildID, userID)
	return s.profiles.RemoveWhitelist(guildID, userID)
}

func (s *Service) IsWhitelisted(guildID, userID string) bool {
	return s.guilds.IsWhitelisted(guildID, userID)
}

func (s *Service) SetThresholdOverride(guildID string, t models.ActionType, limit int) error {
	s.guilds.SetOverride(guildID, t, limit)
	return s.profiles.PersistGuildProfile(s.guilds.GetOrCreate(guildID))
}

func (s *Service) SetLogChannel(guildID, channelID string) error {
	s.guilds.SetLogChannel(guildID, channelID)
	return s.profiles.PersistGuildProfile(s.guilds.GetOrCreate(guildID))
}

func (s *Service) IsInRepairMode(guildID string) bool {
	return s.repair.IsActive(guildID)
}

func (s *Service) IsInQuarantine(guildID string) bool {
	return s.quarantine.IsActive(guildID)
}

// ActivateQuarantine is the manual (admin-invoked) lockdown path.
func (s *Service) ActivateQuarantine(ctx context.Context, guild *models.GuildContext, triggeredBy string) error {
	wasActive := s.quarantine.IsActive(guild.ID)
	if err := s.quarantine.Activate(ctx, guild, triggeredBy); err != nil {
		return err
	}
	if !wasActive {
		s.metrics.ActiveQuarantine.Inc()
	}
	return nil
}

// DeactivateQuarantine restores the pre-quarantine permission bits and lifts
// the per-actor blocks accumulated during the lockdown, along with their
// quota history. Restored actors start from a clean slate.
func (s *Service) DeactivateQuarantine(ctx context.Context, guild *models.GuildContext, authorizedBy string) error {
	wasActive := s.quarantine.IsActive(guild.ID)
	if err := s.quarantine.Deactivate(ctx, guild, authorizedBy); err != nil {
		return err
	}
	if wasActive {
		s.metrics.ActiveQuarantine.Dec()
	}
	s.mu.Lock()
	delete(s.blocked, guild.ID)
	s.mu.Unlock()
	s.quota.ClearGuild(guild.ID)
	return nil
}

// RunSweeps periodically prunes expired quota windows and repair locks.
func (s *Service) RunSweeps(ctx context.Context, interval time.Duration, beat func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.quota.Sweep()
			s.repair.Sweep()
			if beat != nil {
				beat()
			}
		}
	}
}

func (s *Service) blockActor(guildID, actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.blocked[guildID]
	if !ok {
		set = make(map[string]struct{})
		s.blocked[guildID] = set
	}
	set[actorID] = struct{}{}
}

func (s *Service) isBlocked(guildID, actorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[guildID][actorID]
	return ok
}
