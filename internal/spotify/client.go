package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/spoofy-bot/spoofy/internal/domain"
)

// ErrNotLinked means the user has no Spotify credentials on file.
var ErrNotLinked = errors.New("spotify account not linked")

// TokenStore persists OAuth tokens between restarts. Blobs are opaque JSON;
// encryption is the store's concern.
type TokenStore interface {
	TokenInfo(ctx context.Context, uid domain.UserID) ([]byte, bool, error)
	SetTokenInfo(ctx context.Context, uid domain.UserID, tokenJSON []byte) error
}

// AuthConfig carries the two OAuth applications: the per-user one used for
// playback control, and the playlist-account one that owns shared playlists.
type AuthConfig struct {
	ClientID            string
	ClientSecret        string
	RedirectURI         string
	Scopes              []string
	PlaylistRedirectURI string
	PlaylistScopes      []string
}

// Auth hands out API clients backed by stored refresh tokens. Refreshed
// tokens are written back to the store so a restart never loses a link.
type Auth struct {
	user     *spotifyauth.Authenticator
	playlist *spotifyauth.Authenticator
	// Plain configs for building refresh sources; the authenticators do not
	// expose theirs.
	userConf     *oauth2.Config
	playlistConf *oauth2.Config
	store        TokenStore
	logger       zerolog.Logger
}

func NewAuth(cfg AuthConfig, store TokenStore) *Auth {
	endpoint := oauth2.Endpoint{AuthURL: spotifyauth.AuthURL, TokenURL: spotifyauth.TokenURL}
	return &Auth{
		user: spotifyauth.New(
			spotifyauth.WithClientID(cfg.ClientID),
			spotifyauth.WithClientSecret(cfg.ClientSecret),
			spotifyauth.WithRedirectURL(cfg.RedirectURI),
			spotifyauth.WithScopes(cfg.Scopes...),
		),
		playlist: spotifyauth.New(
			spotifyauth.WithClientID(cfg.ClientID),
			spotifyauth.WithClientSecret(cfg.ClientSecret),
			spotifyauth.WithRedirectURL(cfg.PlaylistRedirectURI),
			spotifyauth.WithScopes(cfg.PlaylistScopes...),
		),
		userConf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		playlistConf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.PlaylistRedirectURI,
			Scopes:       cfg.PlaylistScopes,
			Endpoint:     endpoint,
		},
		store:  store,
		logger: log.With().Str("module", "spotify").Logger(),
	}
}

// AuthURL returns the consent page URL for the per-user application.
func (a *Auth) AuthURL(state string) string {
	return a.user.AuthURL(state)
}

func (a *Auth) PlaylistAuthURL(state string) string {
	return a.playlist.AuthURL(state)
}

func (a *Auth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return a.user.Exchange(ctx, code)
}

func (a *Auth) PlaylistExchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return a.playlist.Exchange(ctx, code)
}

// SaveToken stores a freshly exchanged token for a user.
func (a *Auth) SaveToken(ctx context.Context, uid domain.UserID, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return a.store.SetTokenInfo(ctx, uid, raw)
}

// ClientFor builds an API client for a linked user. Returns ErrNotLinked
// when no credentials are stored.
func (a *Auth) ClientFor(ctx context.Context, uid domain.UserID) (*spotify.Client, error) {
	return a.clientFor(ctx, a.userConf, uid)
}

// PlaylistClient builds a client acting as the shared playlist account.
func (a *Auth) PlaylistClient(ctx context.Context, uid domain.UserID) (*spotify.Client, error) {
	return a.clientFor(ctx, a.playlistConf, uid)
}

func (a *Auth) clientFor(ctx context.Context, conf *oauth2.Config, uid domain.UserID) (*spotify.Client, error) {
	raw, ok, err := a.store.TokenInfo(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", uid, err)
	}
	if !ok {
		return nil, ErrNotLinked
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token for %s: %w", uid, err)
	}
	src := &persistingSource{
		src:    conf.TokenSource(ctx, &tok),
		store:  a.store,
		uid:    uid,
		logger: a.logger,
		last:   tok.AccessToken,
	}
	return spotify.New(oauth2.NewClient(ctx, src)), nil
}

// persistingSource wraps a refreshing TokenSource and writes every new
// access token back to the store, keeping the stored refresh token current.
type persistingSource struct {
	src    oauth2.TokenSource
	store  TokenStore
	uid    domain.UserID
	logger zerolog.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last {
		return tok, nil
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("marshal refreshed token: %w", err)
	}
	if err := p.store.SetTokenInfo(context.Background(), p.uid, raw); err != nil {
		// The refreshed token is still valid for this process, so keep going.
		p.logger.Error().Str("uid", string(p.uid)).Err(err).Msg("persist refreshed token failed")
	} else {
		p.last = tok.AccessToken
	}
	return tok, nil
}
