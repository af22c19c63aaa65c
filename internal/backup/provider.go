// Package backup persists periodic topology backups and serves them back
// with integrity verification. Backups are the restoration fallback when the
// live snapshot has no entry for an object.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guildguard/internal/database"
	"guildguard/internal/models"
)

// Topology is the serialized restorable state of one guild at backup time.
type Topology struct {
	GuildID  string           `json:"guild_id"`
	TakenAt  time.Time        `json:"taken_at"`
	Channels []models.Channel `json:"channels"`
	Roles    []models.Role    `json:"roles"`
	Webhooks []models.Webhook `json:"webhooks"`
}

type Meta struct {
	ID        string
	GuildID   string
	CreatedAt time.Time
}

// Integrity is the verification verdict for one stored backup. Legacy marks
// a backup written before checksums existed: accepted, but flagged.
type Integrity struct {
	Valid  bool
	Legacy bool
	Reason string
}

const keepPerGuild = 10

type Store struct {
	db  *database.DB
	log *zap.Logger
	now func() time.Time
}

func NewStore(db *database.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log, now: time.Now}
}

// Write persists a topology backup with its sha256 checksum and prunes old
// backups beyond the retention count. Returns the new backup id.
func (s *Store) Write(topo *Topology) (string, error) {
	if topo.TakenAt.IsZero() {
		topo.TakenAt = s.now()
	}
	data, err := json.Marshal(topo)
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}

	sum := sha256.Sum256(data)
	id := uuid.NewString()
	if err := s.db.InsertBackup(id, topo.GuildID, topo.TakenAt, hex.EncodeToString(sum[:]), data); err != nil {
		return "", fmt.Errorf("insert backup: %w", err)
	}
	if err := s.db.PruneBackups(topo.GuildID, keepPerGuild); err != nil {
		s.log.Warn("backup prune failed", zap.String("guild_id", topo.GuildID), zap.Error(err))
	}

	s.log.Info("backup written",
		zap.String("guild_id", topo.GuildID),
		zap.String("backup_id", id),
		zap.Int("channels", len(topo.Channels)),
		zap.Int("roles", len(topo.Roles)))
	return id, nil
}

// ListBackups returns backup metadata for a guild, newest first.
func (s *Store) ListBackups(guildID string) ([]Meta, error) {
	rows, err := s.db.ListBackups(guildID)
	if err != nil {
		return nil, err
	}
	out := make([]Meta, 0, len(rows))
	for _, row := range rows {
		out = append(out, Meta{ID: row.ID, GuildID: row.GuildID, CreatedAt: row.CreatedAt})
	}
	return out, nil
}

// GetBackupWithVerification loads a backup and recomputes its checksum.
// A mismatch yields Valid=false with a reason; an empty stored checksum is a
// legacy backup, accepted but flagged.
func (s *Store) GetBackupWithVerification(id string) (*Topology, Integrity, error) {
	row, data, err := s.db.GetBackup(id)
	if err != nil {
		return nil, Integrity{}, fmt.Errorf("load backup %s: %w", id, err)
	}

	integ := Integrity{Valid: true}
	if row.Checksum == "" {
		integ.Legacy = true
		integ.Reason = "backup predates integrity hashing"
	} else {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != row.Checksum {
			return nil, Integrity{Valid: false, Reason: "checksum mismatch"}, nil
		}
	}

	var topo Topology
	if err := json.Unmarshal(data, &topo); err != nil {
		return nil, Integrity{Valid: false, Reason: fmt.Sprintf("undecodable payload: %v", err)}, nil
	}
	return &topo, integ, nil
}
