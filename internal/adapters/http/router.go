// Package http exposes the web boundary: session claiming by connection
// code, playback start, and the OAuth account-link flows.
package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/spoofy-bot/spoofy/internal/app"
	"github.com/spoofy-bot/spoofy/internal/config"
	"github.com/spoofy-bot/spoofy/internal/domain"
	"github.com/spoofy-bot/spoofy/internal/store"
	"golang.org/x/oauth2"
)

// Music is the playback side of the /start operation.
type Music interface {
	StartSession(ctx context.Context, uid domain.UserID, channel domain.ChannelID) error
	CompleteLink(ctx context.Context, uid domain.UserID, tok *oauth2.Token) (string, error)
	CompleteLibraryLink(ctx context.Context, tok *oauth2.Token) (string, error)
	LibraryUID() domain.UserID
}

// Voice attaches a session's transcoded stream to the guild's voice sink.
type Voice interface {
	Attach(ctx context.Context, s *app.Session) (app.AttachStatus, error)
}

// Links is the slice of the store the link flow needs.
type Links interface {
	LinkToken(ctx context.Context, token string) (store.LinkToken, bool, error)
	RemoveLinkTokens(ctx context.Context, uid domain.UserID) error
	SetSpotifyUser(ctx context.Context, uid domain.UserID, spotifyUserID string) error
}

// OAuth is the authorization-code side of the link flows.
type OAuth interface {
	AuthURL(state string) string
	PlaylistAuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	PlaylistExchange(ctx context.Context, code string) (*oauth2.Token, error)
}

type Deps struct {
	Cfg      *config.Config
	Sessions *app.Manager
	Music    Music
	Voice    Voice
	Links    Links
	OAuth    OAuth
}

func SetupRouter(ctx context.Context, deps Deps) *gin.Engine {
	if deps.Cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if deps.Cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := newHandler(deps)
	log.Info().Str("module", "adapters.http").Str("stream_host", deps.Cfg.StreamHost).Msg("router setup")

	r.GET("/connect", h.connect)
	r.GET("/check", h.check)
	r.GET("/start", func(c *gin.Context) { h.start(ctx, c) })
	r.GET("/link/:token", h.link)
	r.GET("/callback", func(c *gin.Context) { h.callback(ctx, c) })
	r.GET("/link_playlist_account", h.linkLibrary)
	r.GET("/callback_playlist", func(c *gin.Context) { h.callbackLibrary(ctx, c) })

	return r
}
