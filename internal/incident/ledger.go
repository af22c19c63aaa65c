package incident

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guildguard/internal/models"
)

// Persister is the durable sink for completed incidents; the sqlite store
// implements it.
type Persister interface {
	InsertIncident(id, guildID, actorID, violation string, detectedAt, completedAt time.Time, responseMs int64, payload []byte) error
}

// Ledger is the in-memory registry of active incidents. An incident lives
// here from detection until completion, at which point it is persisted and
// dropped from the registry.
type Ledger struct {
	mu      sync.RWMutex
	active  map[string]*Incident
	byGuild map[string][]string
	db      Persister
	log     *zap.Logger
	now     func() time.Time
}

func NewLedger(db Persister, log *zap.Logger) *Ledger {
	return &Ledger{
		active:  make(map[string]*Incident),
		byGuild: make(map[string][]string),
		db:      db,
		log:     log,
		now:     time.Now,
	}
}

// Open creates an active incident for a freshly detected violation.
func (l *Ledger) Open(guildID, attackerID string, v models.Violation) *Incident {
	inc := &Incident{Record: Record{
		ID:         uuid.NewString(),
		GuildID:    guildID,
		AttackerID: attackerID,
		Violation:  v,
		DetectedAt: v.DetectedAt,
		Status:     StatusActive,
	}}
	if inc.DetectedAt.IsZero() {
		inc.DetectedAt = l.now()
	}

	l.mu.Lock()
	l.active[inc.ID] = inc
	l.byGuild[guildID] = append(l.byGuild[guildID], inc.ID)
	l.mu.Unlock()

	l.log.Info("incident opened",
		zap.String("incident_id", inc.ID),
		zap.String("guild_id", guildID),
		zap.String("attacker_id", attackerID),
		zap.String("violation", v.Type.String()),
		zap.String("action", v.Action.String()))
	return inc
}

// Complete finalizes an incident, persists it, and removes it from the
// active registry. The incident is always marked completed, even when its
// remediation collected warnings.
func (l *Ledger) Complete(inc *Incident) error {
	inc.mu.Lock()
	inc.Status = StatusCompleted
	inc.CompletedAt = l.now()
	inc.ResponseTimeMs = inc.CompletedAt.Sub(inc.DetectedAt).Milliseconds()
	inc.mu.Unlock()

	l.mu.Lock()
	delete(l.active, inc.ID)
	ids := l.byGuild[inc.GuildID]
	for i, id := range ids {
		if id == inc.ID {
			l.byGuild[inc.GuildID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	snap := inc.Snapshot()
	payload, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal incident %s: %w", inc.ID, err)
	}
	summary := fmt.Sprintf("%s/%s x%d (limit %d)",
		snap.Violation.Type, snap.Violation.Action, snap.Violation.Count, snap.Violation.Limit)
	if err := l.db.InsertIncident(snap.ID, snap.GuildID, snap.AttackerID, summary,
		snap.DetectedAt, snap.CompletedAt, snap.ResponseTimeMs, payload); err != nil {
		return fmt.Errorf("persist incident %s: %w", inc.ID, err)
	}

	l.log.Info("incident completed",
		zap.String("incident_id", snap.ID),
		zap.String("guild_id", snap.GuildID),
		zap.Int("restored", len(snap.ItemsRestored)),
		zap.Int("skipped", len(snap.ItemsSkipped)),
		zap.Int("warnings", len(snap.Warnings)),
		zap.Int64("response_ms", snap.ResponseTimeMs))
	return nil
}

func (l *Ledger) Get(id string) (*Incident, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	inc, ok := l.active[id]
	return inc, ok
}

// ActiveForGuild returns the active incidents for a guild.
func (l *Ledger) ActiveForGuild(guildID string) []*Incident {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byGuild[guildID]
	out := make([]*Incident, 0, len(ids))
	for _, id := range ids {
		if inc, ok := l.active[id]; ok {
			out = append(out, inc)
		}
	}
	return out
}
