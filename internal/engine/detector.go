package engine

import (
	"go.uber.org/zap"

	"guildguard/internal/config"
	"guildguard/internal/models"
)

// Suppression reasons, also used as the metric label.
const (
	SuppressSelf      = "self"
	SuppressRepair    = "repair"
	SuppressBlocked   = "blocked"
	SuppressOwner     = "owner"
	SuppressWhitelist = "whitelist"
	SuppressDisabled  = "disabled"
)

// TrackResult is the detector's verdict on one action event.
type TrackResult struct {
	Violated   bool
	Suppressed string // non-empty when the event was short-circuited
	Violation  *models.Violation
}

// TrackAction evaluates one attributed administrative action. Exempt
// principals are short-circuited before any quota is touched; a violation
// blocks the actor, takes the repair lock, and launches the response
// pipeline asynchronously.
func (s *Service) TrackAction(guild *models.GuildContext, ev models.ActionEvent) TrackResult {
	s.metrics.EventsTotal.Inc()

	if reason := s.suppressionReason(guild, ev); reason != "" {
		s.metrics.SuppressedTotal.WithLabelValues(reason).Inc()
		return TrackResult{Suppressed: reason}
	}

	rule := config.BurstRuleFor(ev.Type, s.guilds.Overrides(guild.ID))
	cum, cumTracked := config.CumulativeFor(ev.Type)

	v := s.quota.Track(ev, rule, cum, cumTracked)
	if v == nil {
		return TrackResult{}
	}

	s.blockActor(guild.ID, ev.ActorID)
	s.metrics.ViolationsTotal.WithLabelValues(v.Type.String()).Inc()
	s.log.Warn("violation detected",
		zap.String("guild_id", guild.ID),
		zap.String("actor_id", ev.ActorID),
		zap.String("type", v.Type.String()),
		zap.String("action", v.Action.String()),
		zap.Int("count", v.Count),
		zap.Int("limit", v.Limit))

	// Open the incident and take the repair lock before the pipeline
	// goroutine starts, so every event after this return is suppressed.
	inc := s.ledger.Open(guild.ID, ev.ActorID, *v)
	s.repair.Enter(guild.ID, inc.ID)
	s.metrics.ActiveRepairs.Inc()

	guildCopy := *guild
	go s.handleViolation(&guildCopy, ev.ActorID, v, inc)

	return TrackResult{Violated: true, Violation: v}
}

// suppressionReason returns the first matching exemption, or "" when the
// event must be scored. Order matters: the engine's own actions and
// repair-mode churn must never reach the quota tracker.
func (s *Service) suppressionReason(guild *models.GuildContext, ev models.ActionEvent) string {
	switch {
	case ev.ActorID == s.selfID:
		return SuppressSelf
	case s.repair.IsActive(guild.ID):
		return SuppressRepair
	case s.repair.IsSelfAction(guild.ID, ev.TargetID):
		return SuppressSelf
	case s.isBlocked(guild.ID, ev.ActorID):
		return SuppressBlocked
	case ev.ActorID == guild.OwnerID:
		return SuppressOwner
	case s.guilds.IsWhitelisted(guild.ID, ev.ActorID):
		return SuppressWhitelist
	case !s.detectionEnabled, !s.guilds.IsEnabled(guild.ID):
		return SuppressDisabled
	}
	return ""
}
