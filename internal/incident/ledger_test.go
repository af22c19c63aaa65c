package incident

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guildguard/internal/models"
)

type persisted struct {
	id         string
	guildID    string
	actorID    string
	violation  string
	responseMs int64
	payload    []byte
}

type fakePersister struct {
	rows []persisted
	err  error
}

func (f *fakePersister) InsertIncident(id, guildID, actorID, violation string, detectedAt, completedAt time.Time, responseMs int64, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, persisted{
		id:         id,
		guildID:    guildID,
		actorID:    actorID,
		violation:  violation,
		responseMs: responseMs,
		payload:    payload,
	})
	return nil
}

func testViolation() models.Violation {
	return models.Violation{
		Type:       models.ViolationBurst,
		Action:     models.ActionChannelDelete,
		Count:      3,
		Limit:      2,
		DetectedAt: time.Now().Add(-2 * time.Second),
	}
}

func TestOpenRegistersActiveIncident(t *testing.T) {
	l := NewLedger(&fakePersister{}, zap.NewNop())

	inc := l.Open("g1", "attacker", testViolation())

	require.NotEmpty(t, inc.ID)
	assert.Equal(t, StatusActive, inc.Status)
	assert.Equal(t, "g1", inc.GuildID)
	assert.Equal(t, "attacker", inc.AttackerID)

	got, ok := l.Get(inc.ID)
	require.True(t, ok)
	assert.Same(t, inc, got)

	active := l.ActiveForGuild("g1")
	require.Len(t, active, 1)
	assert.Same(t, inc, active[0])
}

func TestOpenFillsMissingDetectionTime(t *testing.T) {
	l := NewLedger(&fakePersister{}, zap.NewNop())
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	v := testViolation()
	v.DetectedAt = time.Time{}
	inc := l.Open("g1", "attacker", v)

	assert.Equal(t, fixed, inc.DetectedAt)
}

func TestCompletePersistsAndDropsFromRegistry(t *testing.T) {
	db := &fakePersister{}
	l := NewLedger(db, zap.NewNop())

	detected := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := testViolation()
	v.DetectedAt = detected
	inc := l.Open("g1", "attacker", v)
	inc.AddRestored(Item{Kind: "channel", ID: "c1", Name: "general", Source: "memory"})
	inc.AddWarning("unban failed for u9")

	l.now = func() time.Time { return detected.Add(1500 * time.Millisecond) }
	require.NoError(t, l.Complete(inc))

	_, ok := l.Get(inc.ID)
	assert.False(t, ok)
	assert.Empty(t, l.ActiveForGuild("g1"))

	require.Len(t, db.rows, 1)
	row := db.rows[0]
	assert.Equal(t, inc.ID, row.id)
	assert.Equal(t, "burst/channel_delete x3 (limit 2)", row.violation)
	assert.Equal(t, int64(1500), row.responseMs)

	var rec Record
	require.NoError(t, json.Unmarshal(row.payload, &rec))
	assert.Equal(t, StatusCompleted, rec.Status)
	require.Len(t, rec.ItemsRestored, 1)
	assert.Equal(t, "general", rec.ItemsRestored[0].Name)
	assert.Equal(t, []string{"unban failed for u9"}, rec.Warnings)
}

func TestCompleteSurfacesPersistFailure(t *testing.T) {
	db := &fakePersister{err: errors.New("disk full")}
	l := NewLedger(db, zap.NewNop())

	inc := l.Open("g1", "attacker", testViolation())
	err := l.Complete(inc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// The incident is still marked completed; only persistence failed.
	assert.Equal(t, StatusCompleted, inc.Snapshot().Status)
}

func TestSnapshotIsolatesSlices(t *testing.T) {
	inc := &Incident{Record: Record{ID: "i1", GuildID: "g1"}}
	inc.AddAction("timed out attacker")

	snap := inc.Snapshot()
	inc.AddAction("banned attacker")

	assert.Equal(t, []string{"timed out attacker"}, snap.ActionsPerformed)
	assert.Len(t, inc.Snapshot().ActionsPerformed, 2)
}
