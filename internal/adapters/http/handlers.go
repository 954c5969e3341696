package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spoofy-bot/spoofy/internal/app"
	spotifyx "github.com/spoofy-bot/spoofy/internal/spotify"
)

type handler struct {
	deps   Deps
	logger zerolog.Logger
}

func newHandler(deps Deps) *handler {
	return &handler{
		deps:   deps,
		logger: log.With().Str("module", "adapters.http").Logger(),
	}
}

func errorPayload(short, msg string) gin.H {
	return gin.H{"error": true, "short_msg": short, "msg": msg}
}

// connect claims a session by its one-time code and tells the streaming
// client where to send audio.
func (h *handler) connect(c *gin.Context) {
	code := c.Query("code")
	s, ok := h.deps.Sessions.ByCode(code)
	if !ok {
		c.JSON(http.StatusNotFound, errorPayload("unknown code",
			"No session matches this connection code. Run the join command again."))
		return
	}
	if username := c.Query("username"); username != "" {
		s.SetUsername(username)
	}
	h.logger.Info().Str("channel", string(s.ChannelID)).Int("port", s.Port).Msg("session claimed")
	c.JSON(http.StatusOK, gin.H{
		"address": h.deps.Cfg.StreamHost,
		"port":    s.Port,
	})
}

// check reports whether a connection code still names a live session.
func (h *handler) check(c *gin.Context) {
	if _, ok := h.deps.Sessions.ByCode(c.Query("code")); !ok {
		c.JSON(http.StatusNotFound, errorPayload("unknown code", "No live session for this code."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// start re-anchors the user's player on the managed device and attaches the
// transcoded stream to the voice sink.
func (h *handler) start(ctx context.Context, c *gin.Context) {
	code := c.Query("code")
	s, ok := h.deps.Sessions.ByCode(code)
	if !ok {
		c.JSON(http.StatusNotFound, errorPayload("unknown code",
			"No session matches this connection code."))
		return
	}

	if err := h.deps.Music.StartSession(ctx, s.DiscordUID, s.ChannelID); err != nil {
		switch {
		case errors.Is(err, spotifyx.ErrNotLinked):
			c.JSON(http.StatusForbidden, errorPayload("not linked",
				"Your Spotify account is not linked. Use the link command first."))
		case errors.Is(err, spotifyx.ErrLibraryNotLinked):
			c.JSON(http.StatusServiceUnavailable, errorPayload("bot not ready",
				"The bot's playlist account is not linked yet."))
		case errors.Is(err, spotifyx.ErrDeviceNotFound):
			c.JSON(http.StatusBadGateway, errorPayload("device not found",
				"The streaming device is not visible to your Spotify account yet. Wait a moment and retry."))
		default:
			h.logger.Error().Err(err).Str("channel", string(s.ChannelID)).Msg("start playback failed")
			c.JSON(http.StatusInternalServerError, errorPayload("playback error", err.Error()))
		}
		return
	}

	status, err := h.deps.Voice.Attach(ctx, s)
	if err != nil {
		if errors.Is(err, app.ErrVoiceBusy) {
			c.JSON(http.StatusConflict, errorPayload("voice busy",
				"The bot is already streaming for another session in this guild. Disconnect it and reconnect."))
			return
		}
		h.logger.Error().Err(err).Str("channel", string(s.ChannelID)).Msg("voice attach failed")
		c.JSON(http.StatusInternalServerError, errorPayload("voice error", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "already": status == app.AttachedAlready})
}

// link validates a one-time link token and forwards the user to consent.
func (h *handler) link(c *gin.Context) {
	token := c.Param("token")
	t, ok, err := h.deps.Links.LinkToken(c.Request.Context(), token)
	if err != nil {
		h.logger.Error().Err(err).Msg("link token lookup failed")
		c.JSON(http.StatusInternalServerError, errorPayload("store error", err.Error()))
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, errorPayload("unknown token",
			"This link is not valid. Request a new one with the link command."))
		return
	}
	if t.Expired(time.Now()) {
		c.JSON(http.StatusGone, errorPayload("expired token",
			"This link has expired. Request a new one with the link command."))
		return
	}
	c.Redirect(http.StatusFound, h.deps.OAuth.AuthURL(token))
}

// callback finishes a user's OAuth flow. The state parameter is the link
// token, which ties the Spotify grant back to a Discord identity.
func (h *handler) callback(ctx context.Context, c *gin.Context) {
	if e := c.Query("error"); e != "" {
		c.JSON(http.StatusBadRequest, errorPayload("consent denied", e))
		return
	}
	t, ok, err := h.deps.Links.LinkToken(ctx, c.Query("state"))
	if err != nil || !ok {
		c.JSON(http.StatusNotFound, errorPayload("unknown token",
			"This link is not valid anymore. Request a new one."))
		return
	}
	if t.Expired(time.Now()) {
		c.JSON(http.StatusGone, errorPayload("expired token", "This link has expired."))
		return
	}

	tok, err := h.deps.OAuth.Exchange(ctx, c.Query("code"))
	if err != nil {
		h.logger.Error().Err(err).Msg("code exchange failed")
		c.JSON(http.StatusBadGateway, errorPayload("exchange failed", err.Error()))
		return
	}
	spotifyUser, err := h.deps.Music.CompleteLink(ctx, t.UID, tok)
	if err != nil {
		h.logger.Error().Err(err).Str("uid", string(t.UID)).Msg("complete link failed")
		c.JSON(http.StatusInternalServerError, errorPayload("link failed", err.Error()))
		return
	}
	if err := h.deps.Links.SetSpotifyUser(ctx, t.UID, spotifyUser); err != nil {
		c.JSON(http.StatusInternalServerError, errorPayload("store error", err.Error()))
		return
	}
	if err := h.deps.Links.RemoveLinkTokens(ctx, t.UID); err != nil {
		h.logger.Warn().Err(err).Str("uid", string(t.UID)).Msg("stale link tokens not removed")
	}
	h.logger.Info().Str("uid", string(t.UID)).Str("spotify_user", spotifyUser).Msg("account linked")
	c.JSON(http.StatusOK, gin.H{"ok": true, "spotify_user": spotifyUser})
}

// linkLibrary starts the one-time OAuth flow for the shared playlist account.
func (h *handler) linkLibrary(c *gin.Context) {
	c.Redirect(http.StatusFound, h.deps.OAuth.PlaylistAuthURL("library"))
}

func (h *handler) callbackLibrary(ctx context.Context, c *gin.Context) {
	if e := c.Query("error"); e != "" {
		c.JSON(http.StatusBadRequest, errorPayload("consent denied", e))
		return
	}
	tok, err := h.deps.OAuth.PlaylistExchange(ctx, c.Query("code"))
	if err != nil {
		c.JSON(http.StatusBadGateway, errorPayload("exchange failed", err.Error()))
		return
	}
	spotifyUser, err := h.deps.Music.CompleteLibraryLink(ctx, tok)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorPayload("link failed", err.Error()))
		return
	}
	if err := h.deps.Links.SetSpotifyUser(ctx, h.deps.Music.LibraryUID(), spotifyUser); err != nil {
		c.JSON(http.StatusInternalServerError, errorPayload("store error", err.Error()))
		return
	}
	h.logger.Info().Str("spotify_user", spotifyUser).Msg("playlist account linked")
	c.JSON(http.StatusOK, gin.H{"ok": true, "spotify_user": spotifyUser})
}
