package config

import (
	"sync"

	"guildguard/internal/models"
)

// GuildProfile is the effective per-guild configuration consulted on every
// detection check: the feature toggle, optional burst-limit overrides, the
// whitelist, and the notification channel.
type GuildProfile struct {
	GuildID      string
	Enabled      bool
	LogChannelID string
	Whitelist    []string
	Overrides    map[models.ActionType]int
}

type GuildStore struct {
	mu       sync.RWMutex
	profiles map[string]*GuildProfile
}

func NewGuildStore() *GuildStore {
	return &GuildStore{profiles: make(map[string]*GuildProfile)}
}

func (gs *GuildStore) GetOrCreate(guildID string) *GuildProfile {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if p, ok := gs.profiles[guildID]; ok {
		return p
	}
	p := &GuildProfile{
		GuildID:   guildID,
		Enabled:   true,
		Overrides: make(map[models.ActionType]int),
	}
	gs.profiles[guildID] = p
	return p
}

func (gs *GuildStore) Put(p *GuildProfile) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if p.Overrides == nil {
		p.Overrides = make(map[models.ActionType]int)
	}
	gs.profiles[p.GuildID] = p
}

func (gs *GuildStore) IsEnabled(guildID string) bool {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	p, ok := gs.profiles[guildID]
	if !ok {
		return true
	}
	return p.Enabled
}

func (gs *GuildStore) SetEnabled(guildID string, enabled bool) {
	p := gs.GetOrCreate(guildID)
	gs.mu.Lock()
	defer gs.mu.Unlock()
	p.Enabled = enabled
}

func (gs *GuildStore) IsWhitelisted(guildID, userID string) bool {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	p, ok := gs.profiles[guildID]
	if !ok {
		return false
	}
	for _, id := range p.Whitelist {
		if id == userID {
			return true
		}
	}
	return false
}

func (gs *GuildStore) AddWhitelist(guildID, userID string) {
	p := gs.GetOrCreate(guildID)
	gs.mu.Lock()
	defer gs.mu.Unlock()
	for _, id := range p.Whitelist {
		if id == userID {
			return
		}
	}
	p.Whitelist = append(p.Whitelist, userID)
}

func (gs *GuildStore) RemoveWhitelist(guildID, userID string) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	p, ok := gs.profiles[guildID]
	if !ok {
		return
	}
	for i, id := range p.Whitelist {
		if id == userID {
			p.Whitelist = append(p.Whitelist[:i], p.Whitelist[i+1:]...)
			return
		}
	}
}

// Overrides returns a copy of the guild's burst-limit overrides.
func (gs *GuildStore) Overrides(guildID string) map[models.ActionType]int {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	p, ok := gs.profiles[guildID]
	if !ok || len(p.Overrides) == 0 {
		return nil
	}
	out := make(map[models.ActionType]int, len(p.Overrides))
	for k, v := range p.Overrides {
		out[k] = v
	}
	return out
}

func (gs *GuildStore) SetOverride(guildID string, t models.ActionType, limit int) {
	p := gs.GetOrCreate(guildID)
	gs.mu.Lock()
	defer gs.mu.Unlock()
	p.Overrides[t] = limit
}

func (gs *GuildStore) LogChannel(guildID string) string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	p, ok := gs.profiles[guildID]
	if !ok {
		return ""
	}
	return p.LogChannelID
}

func (gs *GuildStore) SetLogChannel(guildID, channelID string) {
	p := gs.GetOrCreate(guildID)
	gs.mu.Lock()
	defer gs.mu.Unlock()
	p.LogChannelID = channelID
}
