package database

import (
	"encoding/json"
	"fmt"
	"strconv"

	"guildguard/internal/config"
	"guildguard/internal/models"
)

// SyncGuildStore hydrates the in-memory guild store from the persisted
// configuration and whitelist tables. Called once at startup, before the
// gateway connects.
func (d *DB) SyncGuildStore(store *config.GuildStore) error {
	rows, err := d.LoadGuildConfigs()
	if err != nil {
		return fmt.Errorf("load guild configs: %w", err)
	}

	for _, row := range rows {
		profile := &config.GuildProfile{
			GuildID:      row.GuildID,
			Enabled:      row.Enabled,
			LogChannelID: row.LogChannelID,
			Overrides:    decodeOverrides(row.Overrides),
		}

		wl, err := d.LoadWhitelist(row.GuildID)
		if err != nil {
			return fmt.Errorf("load whitelist for %s: %w", row.GuildID, err)
		}
		profile.Whitelist = wl

		store.Put(profile)
	}
	return nil
}

// PersistGuildProfile writes one profile back to the store's tables (the
// whitelist table is maintained incrementally by Add/RemoveWhitelist).
func (d *DB) PersistGuildProfile(p *config.GuildProfile) error {
	return d.SaveGuildConfig(GuildConfigRow{
		GuildID:      p.GuildID,
		Enabled:      p.Enabled,
		LogChannelID: p.LogChannelID,
		Overrides:    encodeOverrides(p.Overrides),
	})
}

func encodeOverrides(m map[models.ActionType]int) string {
	if len(m) == 0 {
		return "{}"
	}
	out := make(map[string]int, len(m))
	for t, limit := range m {
		out[strconv.Itoa(int(t))] = limit
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeOverrides(s string) map[models.ActionType]int {
	out := make(map[models.ActionType]int)
	if s == "" {
		return out
	}
	var raw map[string]int
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return out
	}
	for k, limit := range raw {
		t, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[models.ActionType(t)] = limit
	}
	return out
}
