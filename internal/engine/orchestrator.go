package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"guildguard/internal/incident"
	"guildguard/internal/models"
	"guildguard/internal/notifier"
)

// handleViolation runs the response pipeline for one detected violation.
// The incident is always completed and the repair lock always released,
// whatever individual steps fail.
func (s *Service) handleViolation(guild *models.GuildContext, actorID string, v *models.Violation, inc *incident.Incident) {
	ctx, cancel := context.WithTimeout(context.Background(), s.responseTimeout)
	defer cancel()

	defer s.finish(guild, actorID, inc)

	// Lockdown first so the attacker's remaining permissions cannot race
	// the cleanup.
	if s.quarantine.IsActive(guild.ID) {
		inc.AddAction("quarantine already active")
	} else if err := s.quarantine.Activate(ctx, guild, actorID); err != nil {
		inc.AddWarning(fmt.Sprintf("quarantine activation: %v", err))
	} else {
		inc.AddAction("quarantine activated")
		s.metrics.ActiveQuarantine.Inc()
	}

	roles, err := s.roles.ListRoles(ctx, guild.ID)
	if err != nil {
		inc.AddWarning(fmt.Sprintf("list roles for neutralization: %v", err))
	}

	reason := fmt.Sprintf("guildguard: %s %s violation, %d actions (limit %d)",
		v.Type, v.Action, v.Count, v.Limit)
	res := s.neutralizer.Neutralize(ctx, guild, roles, actorID, reason)
	if res.RolesStripped > 0 {
		inc.AddAction(fmt.Sprintf("stripped %d roles from attacker", res.RolesStripped))
	}
	if res.TimedOut {
		inc.AddAction("attacker timed out")
	}
	if res.Banned {
		inc.AddAction("attacker banned")
	}
	for _, e := range res.Errors {
		inc.AddWarning("neutralize: " + e)
	}

	s.restorer.Run(ctx, guild, inc, v)
}

// finish is the deferred tail of handleViolation: release the repair lock,
// complete and persist the incident, publish and alert.
func (s *Service) finish(guild *models.GuildContext, actorID string, inc *incident.Incident) {
	if r := recover(); r != nil {
		inc.AddWarning(fmt.Sprintf("response pipeline panic: %v", r))
		s.log.Error("response pipeline panicked",
			zap.String("incident_id", inc.ID),
			zap.String("guild_id", guild.ID),
			zap.Any("panic", r),
			zap.Stack("stack"))
	}

	s.repair.Exit(guild.ID, inc.ID)
	s.metrics.ActiveRepairs.Dec()

	if err := s.ledger.Complete(inc); err != nil {
		s.log.Error("incident persistence failed",
			zap.String("incident_id", inc.ID), zap.Error(err))
	}

	rec := inc.Snapshot()
	for _, item := range rec.ItemsRestored {
		src := item.Source
		if src == "" {
			src = string(incident.SourceMemory)
		}
		s.metrics.RestoredTotal.WithLabelValues(src).Inc()
	}
	if n := len(rec.ItemsSkipped); n > 0 {
		s.metrics.SkippedTotal.Add(float64(n))
	}

	s.bus.Publish(notifier.SecurityEvent{
		Type:       "incident_completed",
		GuildID:    guild.ID,
		ActorID:    actorID,
		IncidentID: rec.ID,
		Summary: fmt.Sprintf("%s/%s x%d, %d restored, %d skipped, %d ms",
			rec.Violation.Type, rec.Violation.Action, rec.Violation.Count,
			len(rec.ItemsRestored), len(rec.ItemsSkipped), rec.ResponseTimeMs),
	})

	if s.alerter != nil {
		s.alerter.IncidentCompleted(s.guilds.LogChannel(guild.ID), rec)
	}
}
