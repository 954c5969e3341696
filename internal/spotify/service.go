package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/spoofy-bot/spoofy/internal/domain"
)

// ErrLibraryNotLinked means the shared playlist account has not completed
// its one-time OAuth link yet, so no channel playlists can be managed.
var ErrLibraryNotLinked = errors.New("playlist account not linked")

// UserDirectory maps Discord users to the Spotify user id recorded when
// their account was linked.
type UserDirectory interface {
	SpotifyUser(ctx context.Context, uid domain.UserID) (string, bool, error)
}

// Service builds per-session controllers on demand. The library account is
// a fixed Discord uid under which the shared account's credentials live.
type Service struct {
	auth        *Auth
	users       UserDirectory
	connectName string
	libraryUID  domain.UserID
}

func NewService(auth *Auth, users UserDirectory, connectName string, libraryUID domain.UserID) *Service {
	return &Service{
		auth:        auth,
		users:       users,
		connectName: connectName,
		libraryUID:  libraryUID,
	}
}

// ControllerFor wires a controller for one user's session in one channel,
// ensuring the channel playlist exists on the shared account.
func (s *Service) ControllerFor(ctx context.Context, uid domain.UserID, channel domain.ChannelID) (*Controller, error) {
	user, err := s.auth.ClientFor(ctx, uid)
	if err != nil {
		return nil, err
	}
	library, owner, err := s.libraryClient(ctx)
	if err != nil {
		return nil, err
	}
	playlist, err := EnsurePlaylist(ctx, library, owner, channel)
	if err != nil {
		return nil, err
	}
	return NewController(user, library, playlist, s.connectName), nil
}

// StartSession detaches the user's player from whatever it was doing and
// points it at the channel playlist on the managed device.
func (s *Service) StartSession(ctx context.Context, uid domain.UserID, channel domain.ChannelID) error {
	ctrl, err := s.ControllerFor(ctx, uid, channel)
	if err != nil {
		return err
	}
	if err := ctrl.ClearCurrentTrack(ctx); err != nil {
		return err
	}
	return ctrl.StartPlayback(ctx)
}

// CompleteLink finishes a user's OAuth flow: persists the token and looks
// up the Spotify identity it belongs to.
func (s *Service) CompleteLink(ctx context.Context, uid domain.UserID, tok *oauth2.Token) (string, error) {
	if err := s.auth.SaveToken(ctx, uid, tok); err != nil {
		return "", err
	}
	client := spotify.New(s.auth.user.Client(ctx, tok))
	me, err := client.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}
	return me.ID, nil
}

// CompleteLibraryLink finishes the shared account's OAuth flow.
func (s *Service) CompleteLibraryLink(ctx context.Context, tok *oauth2.Token) (string, error) {
	if err := s.auth.SaveToken(ctx, s.libraryUID, tok); err != nil {
		return "", err
	}
	client := spotify.New(s.auth.playlist.Client(ctx, tok))
	me, err := client.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}
	return me.ID, nil
}

func (s *Service) LibraryUID() domain.UserID { return s.libraryUID }

func (s *Service) libraryClient(ctx context.Context) (*Client, string, error) {
	owner, ok, err := s.users.SpotifyUser(ctx, s.libraryUID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", ErrLibraryNotLinked
	}
	client, err := s.auth.PlaylistClient(ctx, s.libraryUID)
	if err != nil {
		if errors.Is(err, ErrNotLinked) {
			return nil, "", ErrLibraryNotLinked
		}
		return nil, "", err
	}
	return client, owner, nil
}

// Aliases for the underlying API types, so callers outside this package do
// not import two packages named spotify.
type (
	Client = spotify.Client
	ID     = spotify.ID
)
