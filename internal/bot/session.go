// Package bot owns the gateway connection: it translates discordgo events
// into attributed action events for the engine and keeps the topology
// snapshots current.
package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildguard/internal/engine"
	"guildguard/internal/snapshot"
)

type Session struct {
	discord *discordgo.Session
	engine  *engine.Service
	snaps   *snapshot.Store
	lister  snapshot.TopologyLister
	log     *zap.Logger
	audit   *auditCache

	selfID string
}

func NewSession(token string, log *zap.Logger) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildWebhooks |
		discordgo.IntentGuildModeration

	return &Session{
		discord: dg,
		log:     log,
		audit:   newAuditCache(),
	}, nil
}

// Discord exposes the raw session for the platform adapter and notifier.
func (s *Session) Discord() *discordgo.Session {
	return s.discord
}

// Bind attaches the assembled engine and snapshot store. Must be called
// before Connect.
func (s *Session) Bind(eng *engine.Service, snaps *snapshot.Store, lister snapshot.TopologyLister) {
	s.engine = eng
	s.snaps = snaps
	s.lister = lister
}

// FetchSelf resolves the bot's own user before the gateway opens, so the
// engine can exempt the bot's actions from the first event onward.
func (s *Session) FetchSelf() (string, error) {
	user, err := s.discord.User("@me")
	if err != nil {
		return "", fmt.Errorf("identify self: %w", err)
	}
	s.selfID = user.ID
	return user.ID, nil
}

func (s *Session) Connect() error {
	if err := s.discord.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	s.log.Info("gateway connected", zap.String("bot_id", s.selfID))
	return nil
}

// SelfID returns the bot's own user id. Valid after Connect.
func (s *Session) SelfID() string {
	return s.selfID
}

func (s *Session) Close() error {
	if s.discord != nil {
		return s.discord.Close()
	}
	return nil
}
