package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildguard/internal/config"
	"guildguard/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "guildguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGuildConfigUpsert(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.SaveGuildConfig(GuildConfigRow{
		GuildID: "g1", Enabled: true, LogChannelID: "log1", Overrides: `{"1":5}`,
	}))
	require.NoError(t, db.SaveGuildConfig(GuildConfigRow{
		GuildID: "g1", Enabled: false, LogChannelID: "log2", Overrides: `{"1":3}`,
	}))

	rows, err := db.LoadGuildConfigs()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Enabled)
	assert.Equal(t, "log2", rows[0].LogChannelID)
	assert.Equal(t, `{"1":3}`, rows[0].Overrides)
}

func TestWhitelistRoundtrip(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.AddWhitelist("g1", "u1"))
	require.NoError(t, db.AddWhitelist("g1", "u2"))
	require.NoError(t, db.AddWhitelist("g1", "u1")) // duplicate is a no-op
	require.NoError(t, db.AddWhitelist("g2", "u3"))

	wl, err := db.LoadWhitelist("g1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, wl)

	require.NoError(t, db.RemoveWhitelist("g1", "u1"))
	wl, err = db.LoadWhitelist("g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, wl)
}

func TestInsertIncident(t *testing.T) {
	db := testDB(t)

	now := time.Now()
	err := db.InsertIncident("i1", "g1", "attacker", "burst/channel_delete x3 (limit 2)",
		now.Add(-2*time.Second), now, 2000, []byte(`{"id":"i1"}`))
	assert.NoError(t, err)
}

func TestSyncGuildStoreHydratesProfiles(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.SaveGuildConfig(GuildConfigRow{
		GuildID: "g1", Enabled: false, LogChannelID: "log1",
		Overrides: encodeOverrides(map[models.ActionType]int{models.ActionBanAdd: 7}),
	}))
	require.NoError(t, db.AddWhitelist("g1", "trusted"))

	store := config.NewGuildStore()
	require.NoError(t, db.SyncGuildStore(store))

	assert.False(t, store.IsEnabled("g1"))
	assert.Equal(t, "log1", store.LogChannel("g1"))
	assert.True(t, store.IsWhitelisted("g1", "trusted"))
	assert.Equal(t, map[models.ActionType]int{models.ActionBanAdd: 7}, store.Overrides("g1"))
}

func TestPersistGuildProfileRoundtrip(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.PersistGuildProfile(&config.GuildProfile{
		GuildID:      "g1",
		Enabled:      true,
		LogChannelID: "log9",
		Overrides: map[models.ActionType]int{
			models.ActionChannelDelete: 4,
			models.ActionRoleDelete:    1,
		},
	}))

	store := config.NewGuildStore()
	require.NoError(t, db.SyncGuildStore(store))

	got := store.Overrides("g1")
	assert.Equal(t, 4, got[models.ActionChannelDelete])
	assert.Equal(t, 1, got[models.ActionRoleDelete])
}

func TestOverridesEncodingHandlesJunk(t *testing.T) {
	assert.Equal(t, "{}", encodeOverrides(nil))
	assert.Empty(t, decodeOverrides(""))
	assert.Empty(t, decodeOverrides("not json"))
	assert.Empty(t, decodeOverrides(`{"abc":5}`))
}
