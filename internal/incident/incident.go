// Package incident owns the audit record of one detected-to-resolved
// violation: every restore decision, skip, action, and warning lands here,
// and the completed record is what an operator reviews after the fact.
package incident

import (
	"sync"
	"time"

	"guildguard/internal/models"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// RestoreSource records where the restored objects came from.
type RestoreSource string

const (
	SourceNone     RestoreSource = ""
	SourceMemory   RestoreSource = "memory"
	SourceDatabase RestoreSource = "database"
	SourceMixed    RestoreSource = "mixed"
)

// Item is one restore decision: an object restored, or skipped with a reason.
type Item struct {
	Kind   string `json:"kind"` // channel, category, role, webhook, ban
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source,omitempty"` // memory or database, restored items only
	Reason string `json:"reason,omitempty"` // skipped items only
}

// Record is the plain incident payload. It carries no lock so it can be
// copied, marshalled, and handed to notifiers freely.
type Record struct {
	ID         string           `json:"id"`
	GuildID    string           `json:"guild_id"`
	AttackerID string           `json:"attacker_id"`
	Violation  models.Violation `json:"violation"`
	DetectedAt time.Time        `json:"detected_at"`
	Status     Status           `json:"status"`

	RestoreSource RestoreSource `json:"restore_source"`
	BackupID      string        `json:"backup_id,omitempty"`
	BackupAge     time.Duration `json:"backup_age,omitempty"`

	ItemsRestored    []Item   `json:"items_restored"`
	ItemsSkipped     []Item   `json:"items_skipped"`
	ActionsPerformed []string `json:"actions_performed"`
	Warnings         []string `json:"warnings"`

	CompletedAt    time.Time `json:"completed_at"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

// Incident is a live record being appended to by remediation. All mutation
// goes through the Add methods; readers take a Snapshot.
type Incident struct {
	mu sync.Mutex
	Record
}

func (i *Incident) AddRestored(item Item) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ItemsRestored = append(i.ItemsRestored, item)
}

func (i *Incident) AddSkipped(item Item) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ItemsSkipped = append(i.ItemsSkipped, item)
}

func (i *Incident) AddAction(action string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ActionsPerformed = append(i.ActionsPerformed, action)
}

func (i *Incident) AddWarning(warning string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Warnings = append(i.Warnings, warning)
}

// SetRestoreSource records the provenance of restored objects.
func (i *Incident) SetRestoreSource(src RestoreSource) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.RestoreSource = src
}

// SetBackup records which persisted backup (if any) the restore consulted.
func (i *Incident) SetBackup(id string, age time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.BackupID = id
	i.BackupAge = age
}

// Snapshot returns a copy safe to read while remediation still appends.
func (i *Incident) Snapshot() Record {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.Record
	out.ItemsRestored = append([]Item(nil), i.ItemsRestored...)
	out.ItemsSkipped = append([]Item(nil), i.ItemsSkipped...)
	out.ActionsPerformed = append([]string(nil), i.ActionsPerformed...)
	out.Warnings = append([]string(nil), i.Warnings...)
	return out
}
