// Package discord is the chat boundary: prefix commands that drive session
// lifecycle and the shared playlist, plus the voice sink player.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spoofy-bot/spoofy/internal/app"
	"github.com/spoofy-bot/spoofy/internal/config"
	"github.com/spoofy-bot/spoofy/internal/domain"
	spotifyx "github.com/spoofy-bot/spoofy/internal/spotify"
	"github.com/spoofy-bot/spoofy/internal/store"
)

// LinkStore is the slice of the store the commands need.
type LinkStore interface {
	AddLinkToken(ctx context.Context, t store.LinkToken) error
	RemoveAccount(ctx context.Context, uid domain.UserID) error
	IsLinked(ctx context.Context, uid domain.UserID) (bool, error)
}

type Bot struct {
	session *discordgo.Session
	cfg     *config.Config
	manager *app.Manager
	music   *spotifyx.Service
	links   LinkStore
	player  *Player
	logger  zerolog.Logger
}

func NewBot(cfg *config.Config, manager *app.Manager, music *spotifyx.Service, links LinkStore) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	b := &Bot{
		session: s,
		cfg:     cfg,
		manager: manager,
		music:   music,
		links:   links,
		logger:  log.With().Str("module", "adapters.discord").Logger(),
	}
	b.player = NewPlayer(s, cfg.FFmpegPath)

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	s.AddHandler(b.onReady)
	s.AddHandler(b.onMessage)
	return b, nil
}

// Player exposes the voice sink so the web boundary can attach streams.
func (b *Bot) Player() *Player { return b.player }

func (b *Bot) Open() error  { return b.session.Open() }
func (b *Bot) Close() error { return b.session.Close() }

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("bot ready")
}
